package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/matt-riley/engage/internal/geo"
	"github.com/matt-riley/engage/internal/repository"
)

// fakeResolver counts lookups so tests can assert the trigger resolves
// geolocation at most once per run.
type fakeResolver struct {
	calls atomic.Int64
	loc   geo.Location
	err   error
}

func (f *fakeResolver) Resolve(context.Context, string) (geo.Location, error) {
	f.calls.Add(1)
	if f.err != nil {
		return geo.Location{}, f.err
	}
	return f.loc, nil
}

func seedTriggerData(repo *fakeRepository) {
	repo.users["user-1"] = repository.User{ID: "user-1", FullName: "Dana Reeve", Position: "Support"}
	repo.customers["cust-1"] = repository.Customer{
		ID:            "cust-1",
		IntegrationID: "integration-1",
		Name:          "Visitor",
		SessionCount:  5,
	}
}

func addLiveMessage(repo *fakeRepository, id, content, rules string) {
	repo.messages[id] = repository.EngageMessage{
		ID:         id,
		BrandID:    "brand-1",
		FromUserID: "user-1",
		Content:    content,
		Kind:       MessageKindVisitorAuto,
		Method:     MessageMethodMessenger,
		IsLive:     true,
		Rules:      json.RawMessage(rules),
	}
}

func triggerRequest() TriggerRequest {
	return TriggerRequest{
		BrandCode:  "acme",
		CustomerID: "cust-1",
		Browser:    BrowserInfo{Language: "en", URL: "https://acme.test/pricing"},
		RemoteAddr: "203.0.113.9",
	}
}

func TestTriggerFiresMatchingMessageOnly(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	addLiveMessage(repo, "msg-en", "Hello {{customer.name}}, I am {{user.fullName}}",
		`[{"kind":"browserLanguage","condition":"is","value":"en"}]`)
	addLiveMessage(repo, "msg-fr", "Bonjour",
		`[{"kind":"browserLanguage","condition":"is","value":"fr"}]`)

	svc := newTestService(t, repo, geo.Static{})

	engagements, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if len(engagements) != 1 {
		t.Fatalf("Trigger() fired %d engagements, want 1", len(engagements))
	}

	got := engagements[0]
	if got.Conversation.Content != "Hello Visitor, I am Dana Reeve" {
		t.Fatalf("conversation content = %q", got.Conversation.Content)
	}
	if got.Message.ConversationID != got.Conversation.ID {
		t.Fatalf("message conversation id = %q, conversation id = %q", got.Message.ConversationID, got.Conversation.ID)
	}
	if len(got.Message.EngageData) == 0 {
		t.Fatalf("message missing engage data")
	}

	var data engageData
	if err := json.Unmarshal(got.Message.EngageData, &data); err != nil {
		t.Fatalf("unmarshal engage data: %v", err)
	}
	if data.MessageID != "msg-en" {
		t.Fatalf("engage data message id = %q, want msg-en", data.MessageID)
	}

	// Only the fired message is marked, so the unmatched one can still fire
	// on a later visit.
	if !repo.engagedSet("msg-en")["cust-1"] {
		t.Fatalf("fired message not marked engaged")
	}
	if repo.engagedSet("msg-fr")["cust-1"] {
		t.Fatalf("unmatched message marked engaged")
	}
}

func TestTriggerHideConversationList(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	repo.integration.HideConversationList = true
	addLiveMessage(repo, "msg-1", "Hello", `[]`)

	svc := newTestService(t, repo, geo.Static{})

	engagements, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if len(engagements) != 0 {
		t.Fatalf("Trigger() fired %d engagements, want 0", len(engagements))
	}
	if repo.conversationCount() != 0 {
		t.Fatalf("Trigger() created %d conversations, want 0", repo.conversationCount())
	}
}

func TestTriggerIdempotent(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	addLiveMessage(repo, "msg-1", "Hello", `[]`)

	svc := newTestService(t, repo, geo.Static{})

	first, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("first Trigger() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first Trigger() fired %d engagements, want 1", len(first))
	}

	second, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("second Trigger() error = %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second Trigger() fired %d engagements, want 0", len(second))
	}
	if repo.conversationCount() != 1 {
		t.Fatalf("conversations after two triggers = %d, want 1", repo.conversationCount())
	}
}

func TestTriggerCandidateIsolation(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	addLiveMessage(repo, "msg-bad", "Hello", `[]`)
	badMessage := repo.messages["msg-bad"]
	badMessage.FromUserID = "user-gone"
	repo.messages["msg-bad"] = badMessage
	addLiveMessage(repo, "msg-good", "Hello", `[]`)

	svc := newTestService(t, repo, geo.Static{})

	engagements, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if len(engagements) != 1 {
		t.Fatalf("Trigger() fired %d engagements, want 1", len(engagements))
	}
	if !repo.engagedSet("msg-good")["cust-1"] {
		t.Fatalf("healthy candidate not marked engaged")
	}
	if repo.engagedSet("msg-bad")["cust-1"] {
		t.Fatalf("failed candidate marked engaged")
	}
}

func TestTriggerGeoFailureIsolated(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	addLiveMessage(repo, "msg-city", "Hello",
		`[{"kind":"city","condition":"is","value":"Ulaanbaatar"}]`)
	addLiveMessage(repo, "msg-lang", "Hello",
		`[{"kind":"browserLanguage","condition":"is","value":"en"}]`)

	resolver := &fakeResolver{err: errors.New("lookup service down")}
	svc := newTestService(t, repo, resolver)

	engagements, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if len(engagements) != 1 {
		t.Fatalf("Trigger() fired %d engagements, want 1", len(engagements))
	}
	if repo.engagedSet("msg-city")["cust-1"] {
		t.Fatalf("geo-dependent candidate marked engaged despite lookup failure")
	}
}

func TestTriggerGeoResolvedOnce(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	addLiveMessage(repo, "msg-city", "Hello",
		`[{"kind":"city","condition":"is","value":"Ulaanbaatar"}]`)
	addLiveMessage(repo, "msg-country", "Hello",
		`[{"kind":"country","condition":"is","value":"Mongolia"}]`)
	addLiveMessage(repo, "msg-lang", "Hello",
		`[{"kind":"browserLanguage","condition":"is","value":"en"}]`)

	resolver := &fakeResolver{loc: geo.Location{City: "Ulaanbaatar", Country: "Mongolia"}}
	svc := newTestService(t, repo, resolver)

	engagements, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if len(engagements) != 3 {
		t.Fatalf("Trigger() fired %d engagements, want 3", len(engagements))
	}
	if calls := resolver.calls.Load(); calls != 1 {
		t.Fatalf("resolver called %d times, want 1", calls)
	}
}

func TestTriggerNoMarkWithoutConversation(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	repo.failCreateConversation = true
	addLiveMessage(repo, "msg-1", "Hello", `[]`)

	svc := newTestService(t, repo, geo.Static{})

	engagements, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if len(engagements) != 0 {
		t.Fatalf("Trigger() fired %d engagements, want 0", len(engagements))
	}
	if repo.engagedSet("msg-1")["cust-1"] {
		t.Fatalf("candidate marked engaged without a conversation")
	}
}

func TestTriggerEngagementSurvivesMarkFailure(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	repo.failMarkEngaged = true
	addLiveMessage(repo, "msg-1", "Hello", `[]`)

	svc := newTestService(t, repo, geo.Static{})

	engagements, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if len(engagements) != 1 {
		t.Fatalf("Trigger() fired %d engagements, want 1", len(engagements))
	}
	if repo.conversationCount() != 1 {
		t.Fatalf("conversations = %d, want 1", repo.conversationCount())
	}
}

func TestTriggerPartialCreateSkipsCandidate(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	repo.failCreateMessage = true
	addLiveMessage(repo, "msg-1", "Hello", `[]`)

	svc := newTestService(t, repo, geo.Static{})

	engagements, err := svc.Trigger(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if len(engagements) != 0 {
		t.Fatalf("Trigger() fired %d engagements, want 0", len(engagements))
	}
	// The orphan conversation exists but the candidate is not marked, so a
	// later visit can retry.
	if repo.conversationCount() != 1 {
		t.Fatalf("conversations = %d, want orphan conversation to remain", repo.conversationCount())
	}
	if repo.engagedSet("msg-1")["cust-1"] {
		t.Fatalf("candidate marked engaged after partial create")
	}
}

func TestTriggerUnknownBrand(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)

	svc := newTestService(t, repo, geo.Static{})

	req := triggerRequest()
	req.BrandCode = "nope"
	if _, err := svc.Trigger(context.Background(), req); !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("Trigger() error = %v, want ErrIntegrationNotFound", err)
	}
}

func TestConnectIncrementsSessionCount(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)
	customer := repo.customers["cust-1"]
	customer.SessionCount = 2
	repo.customers["cust-1"] = customer
	addLiveMessage(repo, "msg-visits", "Welcome back",
		`[{"kind":"numberOfVisits","condition":"greaterThan","value":2}]`)

	svc := newTestService(t, repo, geo.Static{})

	// Connect bumps the session count to 3 before evaluation, so the
	// greaterThan 2 rule passes.
	engagements, err := svc.Connect(context.Background(), triggerRequest())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(engagements) != 1 {
		t.Fatalf("Connect() fired %d engagements, want 1", len(engagements))
	}
}

func TestConnectUnknownCustomer(t *testing.T) {
	repo := newFakeRepository()
	seedTriggerData(repo)

	svc := newTestService(t, repo, geo.Static{})

	req := triggerRequest()
	req.CustomerID = "nope"
	if _, err := svc.Connect(context.Background(), req); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("Connect() error = %v, want ErrCustomerNotFound", err)
	}
}
