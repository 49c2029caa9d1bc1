// Package service implements the auto-engagement pipeline: managing engage
// message templates and deciding, for a connecting visitor, which templates
// fire and what conversations they create.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/engage/internal/core"
	"github.com/matt-riley/engage/internal/geo"
	"github.com/matt-riley/engage/internal/repository"
)

const (
	// IntegrationKindMessenger is the integration kind the trigger targets.
	IntegrationKindMessenger = "messenger"
	// MessageKindVisitorAuto marks templates that fire automatically for
	// visitors; other kinds (manual campaigns, email blasts) never trigger
	// here.
	MessageKindVisitorAuto = "visitorAuto"
	// MessageMethodMessenger marks templates delivered through the web
	// messenger.
	MessageMethodMessenger = "messenger"

	defaultMarkTimeout = 2 * time.Second
)

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrMessageNotFound     = errors.New("engage message not found")
	ErrInvalidRules        = errors.New("invalid rules")
)

// PartialCreateError reports that a conversation was created but its
// initiating message was not, leaving an orphan conversation the caller may
// retry or discard.
type PartialCreateError struct {
	ConversationID string
	Err            error
}

func (e *PartialCreateError) Error() string {
	return fmt.Sprintf("conversation %s created without message: %v", e.ConversationID, e.Err)
}

func (e *PartialCreateError) Unwrap() error {
	return e.Err
}

// Repository is the storage surface the service depends on.
type Repository interface {
	GetIntegration(ctx context.Context, brandCode, kind string) (repository.Brand, repository.Integration, error)
	GetUser(ctx context.Context, id string) (repository.User, error)
	GetCustomer(ctx context.Context, id string) (repository.Customer, error)
	IncCustomerSession(ctx context.Context, id string) (int, error)

	CreateEngageMessage(ctx context.Context, message repository.EngageMessage) (repository.EngageMessage, error)
	UpdateEngageMessage(ctx context.Context, message repository.EngageMessage) (repository.EngageMessage, error)
	GetEngageMessage(ctx context.Context, id string) (repository.EngageMessage, error)
	ListEngageMessages(ctx context.Context, brandID string) ([]repository.EngageMessage, error)
	DeleteEngageMessage(ctx context.Context, id string) error
	SetEngageMessageLive(ctx context.Context, id string, isLive bool) (repository.EngageMessage, error)
	ListCandidateMessages(ctx context.Context, brandID, kind, method, customerID string) ([]repository.EngageMessage, error)

	CreateConversation(ctx context.Context, conversation repository.Conversation) (repository.Conversation, error)
	CreateMessage(ctx context.Context, message repository.Message) (repository.Message, error)
	MarkEngaged(ctx context.Context, messageID, customerID string) error
}

// Metrics is the instrumentation surface the service reports to. The
// concrete Prometheus implementation lives in internal/metrics.
type Metrics interface {
	RecordRuleCheck(passed bool)
	RecordEngagement()
	RecordCandidateFailure(stage string)
	RecordGeoLookup(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordRuleCheck(bool)          {}
func (noopMetrics) RecordEngagement()             {}
func (noopMetrics) RecordCandidateFailure(string) {}
func (noopMetrics) RecordGeoLookup(string)        {}

// Service coordinates engage message management and visitor triggering.
type Service struct {
	repo        Repository
	resolver    geo.Resolver
	log         *slog.Logger
	metrics     Metrics
	markTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for per-candidate failure reporting.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the instrumentation sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMarkTimeout bounds the detached mark-engaged write that runs after a
// conversation has been created.
func WithMarkTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.markTimeout = timeout
		}
	}
}

// New creates a Service over the given repository and geolocation resolver.
func New(repo Repository, resolver geo.Resolver, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}
	if resolver == nil {
		return nil, errors.New("geo resolver is nil")
	}

	svc := &Service{
		repo:        repo,
		resolver:    resolver,
		log:         slog.Default(),
		metrics:     noopMetrics{},
		markTimeout: defaultMarkTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// CreateEngageMessage validates and stores a new engage message template.
func (s *Service) CreateEngageMessage(ctx context.Context, message repository.EngageMessage) (repository.EngageMessage, error) {
	if err := validateEngageMessage(message); err != nil {
		return repository.EngageMessage{}, err
	}
	if _, err := decodeRules(message.Rules); err != nil {
		return repository.EngageMessage{}, err
	}

	created, err := s.repo.CreateEngageMessage(ctx, message)
	if err != nil {
		return repository.EngageMessage{}, fmt.Errorf("create engage message: %w", err)
	}

	return created, nil
}

// UpdateEngageMessage validates and stores changes to an engage message.
func (s *Service) UpdateEngageMessage(ctx context.Context, message repository.EngageMessage) (repository.EngageMessage, error) {
	if strings.TrimSpace(message.ID) == "" {
		return repository.EngageMessage{}, errors.New("engage message id is required")
	}
	if err := validateEngageMessage(message); err != nil {
		return repository.EngageMessage{}, err
	}
	if _, err := decodeRules(message.Rules); err != nil {
		return repository.EngageMessage{}, err
	}

	updated, err := s.repo.UpdateEngageMessage(ctx, message)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.EngageMessage{}, ErrMessageNotFound
		}
		return repository.EngageMessage{}, fmt.Errorf("update engage message: %w", err)
	}

	return updated, nil
}

// GetEngageMessage retrieves one engage message by id.
func (s *Service) GetEngageMessage(ctx context.Context, id string) (repository.EngageMessage, error) {
	if strings.TrimSpace(id) == "" {
		return repository.EngageMessage{}, errors.New("engage message id is required")
	}

	message, err := s.repo.GetEngageMessage(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.EngageMessage{}, ErrMessageNotFound
		}
		return repository.EngageMessage{}, fmt.Errorf("get engage message: %w", err)
	}

	return message, nil
}

// ListEngageMessages returns all engage messages for a brand.
func (s *Service) ListEngageMessages(ctx context.Context, brandID string) ([]repository.EngageMessage, error) {
	if strings.TrimSpace(brandID) == "" {
		return nil, errors.New("brand id is required")
	}

	messages, err := s.repo.ListEngageMessages(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("list engage messages: %w", err)
	}

	return messages, nil
}

// DeleteEngageMessage removes an engage message.
func (s *Service) DeleteEngageMessage(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("engage message id is required")
	}

	if err := s.repo.DeleteEngageMessage(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("delete engage message: %w", err)
	}

	return nil
}

// SetEngageMessageLive toggles whether a message is eligible to fire.
func (s *Service) SetEngageMessageLive(ctx context.Context, id string, isLive bool) (repository.EngageMessage, error) {
	if strings.TrimSpace(id) == "" {
		return repository.EngageMessage{}, errors.New("engage message id is required")
	}

	updated, err := s.repo.SetEngageMessageLive(ctx, id, isLive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.EngageMessage{}, ErrMessageNotFound
		}
		return repository.EngageMessage{}, fmt.Errorf("set engage message live: %w", err)
	}

	return updated, nil
}

func validateEngageMessage(message repository.EngageMessage) error {
	if strings.TrimSpace(message.BrandID) == "" {
		return errors.New("brand id is required")
	}
	if strings.TrimSpace(message.FromUserID) == "" {
		return errors.New("from user id is required")
	}
	if strings.TrimSpace(message.Content) == "" {
		return errors.New("content is required")
	}
	if message.Kind == "" || message.Method == "" {
		return errors.New("kind and method are required")
	}

	return nil
}

// decodeRules parses and validates a stored rule set. Unknown kinds,
// conditions, or incompatible combinations are rejected here so they never
// reach evaluation.
func decodeRules(payload json.RawMessage) ([]core.Rule, error) {
	rules := make([]core.Rule, 0)
	if len(payload) == 0 {
		return rules, nil
	}

	if err := json.Unmarshal(payload, &rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := core.ValidateRules(rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	return rules, nil
}
