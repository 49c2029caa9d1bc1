// Package engage provides client interfaces and domain types for the engage
// visitor-targeting service.
//
// Use the sub-package to create a transport-specific client:
//
//	import engagehttp "github.com/matt-riley/engage/clients/go/http"
package engage

import (
	"context"
	"time"
)

// MessageManager covers CRUD operations on engage messages.
type MessageManager interface {
	CreateMessage(ctx context.Context, msg EngageMessage) (EngageMessage, error)
	GetMessage(ctx context.Context, id string) (EngageMessage, error)
	ListMessages(ctx context.Context, brandID string) ([]EngageMessage, error)
	UpdateMessage(ctx context.Context, msg EngageMessage) (EngageMessage, error)
	DeleteMessage(ctx context.Context, id string) error
	SetMessageLive(ctx context.Context, id string, isLive bool) (EngageMessage, error)
}

// Connector reports a visitor's browsing session to the server, which may
// fire live engage messages in response.
type Connector interface {
	Connect(ctx context.Context, req ConnectRequest) ([]Engagement, error)
}

// EngageMessage is the domain representation of an auto-engagement message.
type EngageMessage struct {
	ID         string
	BrandID    string
	FromUserID string
	Title      string
	Content    string
	Kind       string // "visitorAuto"
	Method     string // "messenger"
	IsLive     bool
	Rules      []Rule    // may be nil
	CreatedAt  time.Time // server-assigned
	UpdatedAt  time.Time // server-assigned
}

// Rule is a single visitor-targeting condition on an engage message.
type Rule struct {
	Kind      string // "browserLanguage", "currentPageUrl", "city", "country", "numberOfVisits"
	Condition string // "is", "isNot", "isUnknown", "hasAnyValue", "startsWith", "endsWith", "greaterThan", "lessThan"
	Value     any    // nil for "isUnknown" and "hasAnyValue"
}

// ConnectRequest describes one visitor session event.
type ConnectRequest struct {
	BrandCode  string
	CustomerID string
	Browser    BrowserInfo
}

// BrowserInfo is the visitor's browsing context as reported by the widget.
type BrowserInfo struct {
	Language string
	URL      string
}

// Engagement is a conversation opened by a fired engage message.
type Engagement struct {
	Conversation Conversation
	Message      Message
}

// Conversation is the conversation record created when a message fires.
type Conversation struct {
	ID            string
	IntegrationID string
	CustomerID    string
	UserID        string
	Content       string
	CreatedAt     time.Time
}

// Message is the first message in an engagement conversation.
type Message struct {
	ID             string
	ConversationID string
	CustomerID     string
	UserID         string
	Content        string
	CreatedAt      time.Time
}
