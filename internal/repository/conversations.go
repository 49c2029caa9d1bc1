package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation is a thread between a user and a customer on an integration.
// Auto-engagement creates one per fired engage message.
type Conversation struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integration_id"`
	CustomerID    string    `json:"customer_id"`
	UserID        string    `json:"user_id"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is one message inside a conversation. EngageData carries the
// originating engage template metadata for messages created by
// auto-engagement, so delivery knows where the message came from.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	CustomerID     string          `json:"customer_id"`
	UserID         string          `json:"user_id"`
	Content        string          `json:"content"`
	EngageData     json.RawMessage `json:"engage_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateConversation inserts a new conversation and returns the created
// record.
func (r *PostgresRepository) CreateConversation(ctx context.Context, conversation Conversation) (Conversation, error) {
	var created Conversation
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, integration_id, customer_id, user_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, integration_id, customer_id, user_id, content, created_at
	`,
		uuid.NewString(),
		conversation.IntegrationID,
		conversation.CustomerID,
		conversation.UserID,
		conversation.Content,
	).Scan(
		&created.ID,
		&created.IntegrationID,
		&created.CustomerID,
		&created.UserID,
		&created.Content,
		&created.CreatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	return created, nil
}

// CreateMessage inserts a new message into a conversation and returns the
// created record.
func (r *PostgresRepository) CreateMessage(ctx context.Context, message Message) (Message, error) {
	var created Message
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, customer_id, user_id, content, engage_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, conversation_id, customer_id, user_id, content, engage_data, created_at
	`,
		uuid.NewString(),
		message.ConversationID,
		message.CustomerID,
		message.UserID,
		message.Content,
		ensureJSON(message.EngageData, "{}"),
	).Scan(
		&created.ID,
		&created.ConversationID,
		&created.CustomerID,
		&created.UserID,
		&created.Content,
		&created.EngageData,
		&created.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}

	return created, nil
}

// ConversationMessageCount returns the number of messages in a conversation.
// A count of zero identifies an orphan conversation left behind by a partial
// create failure.
func (r *PostgresRepository) ConversationMessageCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = $1
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conversation message count: %w", err)
	}

	return count, nil
}
