package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/engage/internal/core"
	"github.com/matt-riley/engage/internal/geo"
	"github.com/matt-riley/engage/internal/repository"
)

// BrowserInfo is the visitor's browser snapshot supplied by the messenger
// widget on connect.
type BrowserInfo struct {
	Language string `json:"language"`
	URL      string `json:"url"`
}

// TriggerRequest identifies the visitor and context an auto-engagement run
// evaluates against.
type TriggerRequest struct {
	BrandCode  string
	CustomerID string
	Browser    BrowserInfo
	RemoteAddr string
}

// Engagement is one fired auto-engagement: the conversation and its
// initiating message.
type Engagement struct {
	Conversation repository.Conversation `json:"conversation"`
	Message      repository.Message      `json:"message"`
}

// engageData is the template metadata attached to a created message so
// downstream delivery knows which engage template produced it.
type engageData struct {
	MessageID  string          `json:"messageId"`
	FromUserID string          `json:"fromUserId"`
	Kind       string          `json:"kind"`
	Method     string          `json:"method"`
	Content    string          `json:"content"`
	Rules      json.RawMessage `json:"rules,omitempty"`
}

// Connect records a messenger session for the customer and then fires any
// matching auto-engagements. This is the entry point the visitor-facing
// connect endpoint calls.
func (s *Service) Connect(ctx context.Context, req TriggerRequest) ([]Engagement, error) {
	if _, err := s.repo.IncCustomerSession(ctx, req.CustomerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("register visit: %w", err)
	}

	return s.Trigger(ctx, req)
}

// Trigger evaluates every candidate engage message against the visitor and
// creates a conversation/message pair for each one whose rules pass. The
// per-candidate pipelines run concurrently and are isolated: one candidate
// failing never stops a sibling from firing. Only integration resolution
// failure aborts the whole call.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) ([]Engagement, error) {
	brand, integration, err := s.repo.GetIntegration(ctx, req.BrandCode, IntegrationKindMessenger)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntegrationNotFound
		}
		return nil, fmt.Errorf("resolve integration: %w", err)
	}

	// Integrations configured to hide the conversation list never engage.
	if integration.HideConversationList {
		return []Engagement{}, nil
	}

	customer, err := s.repo.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("resolve customer: %w", err)
	}

	candidates, err := s.repo.ListCandidateMessages(ctx, brand.ID, MessageKindVisitorAuto, MessageMethodMessenger, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("list candidate messages: %w", err)
	}
	if len(candidates) == 0 {
		return []Engagement{}, nil
	}

	visitor := core.VisitorContext{
		BrowserLanguage: req.Browser.Language,
		CurrentPageURL:  req.Browser.URL,
		NumberOfVisits:  customer.SessionCount,
	}
	location := &lazyLocation{resolver: s.resolver, remoteAddr: req.RemoteAddr, metrics: s.metrics}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]Engagement, 0, len(candidates))
	)
	for _, candidate := range candidates {
		wg.Add(1)
		go func(candidate repository.EngageMessage) {
			defer wg.Done()

			engagement, fired, err := s.runCandidate(ctx, candidate, integration, customer, visitor, location)
			if err != nil {
				s.log.ErrorContext(ctx, "engage candidate failed",
					"engage_message_id", candidate.ID,
					"customer_id", customer.ID,
					"error", err,
				)
				return
			}
			if !fired {
				return
			}

			mu.Lock()
			results = append(results, engagement)
			mu.Unlock()
		}(candidate)
	}
	wg.Wait()

	return results, nil
}

// runCandidate executes one candidate's pipeline: resolve the owning user,
// evaluate the rule set, create the conversation pair, then mark the
// customer engaged. Steps are strictly sequential within a candidate.
func (s *Service) runCandidate(
	ctx context.Context,
	candidate repository.EngageMessage,
	integration repository.Integration,
	customer repository.Customer,
	visitor core.VisitorContext,
	location *lazyLocation,
) (Engagement, bool, error) {
	user, err := s.repo.GetUser(ctx, candidate.FromUserID)
	if err != nil {
		s.metrics.RecordCandidateFailure("user")
		if errors.Is(err, pgx.ErrNoRows) {
			return Engagement{}, false, fmt.Errorf("%w: %s", ErrUserNotFound, candidate.FromUserID)
		}
		return Engagement{}, false, fmt.Errorf("resolve user: %w", err)
	}

	rules, err := decodeRules(candidate.Rules)
	if err != nil {
		s.metrics.RecordCandidateFailure("rules")
		return Engagement{}, false, err
	}

	// Geolocation is resolved lazily: candidates without city/country rules
	// never pay for the lookup, and a lookup failure only fails the
	// candidates that actually need the location.
	if core.NeedsLocation(rules) {
		loc, err := location.get(ctx)
		if err != nil {
			s.metrics.RecordCandidateFailure("geo")
			return Engagement{}, false, fmt.Errorf("resolve location: %w", err)
		}
		visitor.City = loc.City
		visitor.Country = loc.Country
	}

	passed, err := core.EvaluateRules(rules, visitor)
	if err != nil {
		s.metrics.RecordCandidateFailure("rules")
		return Engagement{}, false, fmt.Errorf("check rules: %w", err)
	}
	s.metrics.RecordRuleCheck(passed)
	if !passed {
		return Engagement{}, false, nil
	}

	engagement, err := s.createConversation(ctx, candidate, integration, customer, user)
	if err != nil {
		s.metrics.RecordCandidateFailure("create")
		return Engagement{}, false, err
	}

	// The mark is the durability boundary: it runs strictly after a
	// successful create, detached from caller cancellation so an engagement
	// that already wrote a conversation is not lost to a disconnecting
	// client. If the mark itself fails the message may fire again on the
	// visitor's next connect; the engaged-set insert is idempotent, so a
	// later retry cannot double-mark.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.markTimeout)
	defer cancel()
	if err := s.repo.MarkEngaged(markCtx, candidate.ID, customer.ID); err != nil {
		s.metrics.RecordCandidateFailure("mark")
		s.log.ErrorContext(ctx, "mark engaged failed after conversation create",
			"engage_message_id", candidate.ID,
			"customer_id", customer.ID,
			"conversation_id", engagement.Conversation.ID,
			"error", err,
		)
	}

	s.metrics.RecordEngagement()

	return engagement, true, nil
}

// createConversation performs the substitution and the two-step
// conversation-then-message create. A message-create failure after the
// conversation exists surfaces as a PartialCreateError so the orphan is
// reportable rather than silently swallowed.
func (s *Service) createConversation(
	ctx context.Context,
	candidate repository.EngageMessage,
	integration repository.Integration,
	customer repository.Customer,
	user repository.User,
) (Engagement, error) {
	content := replaceKeys(candidate.Content, customer, user)

	conversation, err := s.repo.CreateConversation(ctx, repository.Conversation{
		IntegrationID: integration.ID,
		CustomerID:    customer.ID,
		UserID:        user.ID,
		Content:       content,
	})
	if err != nil {
		return Engagement{}, fmt.Errorf("create conversation: %w", err)
	}

	data, err := json.Marshal(engageData{
		MessageID:  candidate.ID,
		FromUserID: candidate.FromUserID,
		Kind:       candidate.Kind,
		Method:     candidate.Method,
		Content:    candidate.Content,
		Rules:      candidate.Rules,
	})
	if err != nil {
		return Engagement{}, &PartialCreateError{ConversationID: conversation.ID, Err: err}
	}

	message, err := s.repo.CreateMessage(ctx, repository.Message{
		ConversationID: conversation.ID,
		CustomerID:     customer.ID,
		UserID:         user.ID,
		Content:        content,
		EngageData:     data,
	})
	if err != nil {
		return Engagement{}, &PartialCreateError{ConversationID: conversation.ID, Err: err}
	}

	return Engagement{Conversation: conversation, Message: message}, nil
}

// lazyLocation memoizes a single geolocation lookup across the concurrent
// candidate pipelines of one trigger call.
type lazyLocation struct {
	resolver   geo.Resolver
	remoteAddr string
	metrics    Metrics

	once sync.Once
	loc  geo.Location
	err  error
}

func (l *lazyLocation) get(ctx context.Context) (geo.Location, error) {
	l.once.Do(func() {
		l.loc, l.err = l.resolver.Resolve(ctx, l.remoteAddr)
		if l.err != nil {
			l.metrics.RecordGeoLookup("error")
		} else {
			l.metrics.RecordGeoLookup("ok")
		}
	})

	return l.loc, l.err
}
