package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/matt-riley/engage/internal/geo"
	"github.com/matt-riley/engage/internal/repository"
)

func BenchmarkReplaceKeys(b *testing.B) {
	customer := repository.Customer{Name: "Bat", Email: "bat@example.com"}
	user := repository.User{FullName: "Dana Reeve", Position: "Support"}
	content := "Hi {{customer.name}}, {{user.fullName}} here ({{user.position}}). Reach me anytime."

	b.ReportAllocs()
	for b.Loop() {
		replaceKeys(content, customer, user)
	}
}

func BenchmarkDecodeRules(b *testing.B) {
	payload := json.RawMessage(`[
		{"kind":"browserLanguage","condition":"is","value":"en"},
		{"kind":"currentPageUrl","condition":"startsWith","value":"/pricing"},
		{"kind":"numberOfVisits","condition":"greaterThan","value":3}
	]`)

	b.ReportAllocs()
	for b.Loop() {
		if _, err := decodeRules(payload); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTrigger(b *testing.B) {
	repo := newFakeRepository()
	repo.users["user-1"] = repository.User{ID: "user-1", FullName: "Dana Reeve"}
	repo.customers["cust-1"] = repository.Customer{ID: "cust-1", SessionCount: 5}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("msg-%d", i)
		repo.messages[id] = repository.EngageMessage{
			ID:         id,
			BrandID:    "brand-1",
			FromUserID: "user-1",
			Content:    "Hello {{customer.name}}",
			Kind:       MessageKindVisitorAuto,
			Method:     MessageMethodMessenger,
			IsLive:     true,
			Rules:      json.RawMessage(`[{"kind":"browserLanguage","condition":"is","value":"fr"}]`),
		}
	}

	svc, err := New(repo, geo.Static{})
	if err != nil {
		b.Fatal(err)
	}
	req := TriggerRequest{
		BrandCode:  "acme",
		CustomerID: "cust-1",
		Browser:    BrowserInfo{Language: "en", URL: "/"},
	}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := svc.Trigger(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
