package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EngageMessage is the stored representation of an auto-engagement template.
// Rules is a jsonb array of targeting rules; the service layer decodes and
// validates it against the core rule engine.
type EngageMessage struct {
	ID         string          `json:"id"`
	BrandID    string          `json:"brand_id"`
	FromUserID string          `json:"from_user_id"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	Kind       string          `json:"kind"`
	Method     string          `json:"method"`
	IsLive     bool            `json:"is_live"`
	Rules      json.RawMessage `json:"rules"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

const engageMessageColumns = `id, brand_id, from_user_id, title, content, kind, method, is_live, rules, created_at, updated_at`

func scanEngageMessage(row interface{ Scan(...any) error }) (EngageMessage, error) {
	var m EngageMessage
	err := row.Scan(
		&m.ID,
		&m.BrandID,
		&m.FromUserID,
		&m.Title,
		&m.Content,
		&m.Kind,
		&m.Method,
		&m.IsLive,
		&m.Rules,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

// CreateEngageMessage inserts a new engage message and returns the created
// record with server-generated timestamps.
func (r *PostgresRepository) CreateEngageMessage(ctx context.Context, message EngageMessage) (EngageMessage, error) {
	created, err := scanEngageMessage(r.pool.QueryRow(ctx, `
		INSERT INTO engage_messages (id, brand_id, from_user_id, title, content, kind, method, is_live, rules)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+engageMessageColumns+`
	`,
		uuid.NewString(),
		message.BrandID,
		message.FromUserID,
		message.Title,
		message.Content,
		message.Kind,
		message.Method,
		message.IsLive,
		ensureJSON(message.Rules, "[]"),
	))
	if err != nil {
		return EngageMessage{}, fmt.Errorf("create engage message: %w", err)
	}

	return created, nil
}

// UpdateEngageMessage updates an existing engage message identified by id and
// returns the updated record. Returns pgx.ErrNoRows (wrapped) if the message
// does not exist.
func (r *PostgresRepository) UpdateEngageMessage(ctx context.Context, message EngageMessage) (EngageMessage, error) {
	updated, err := scanEngageMessage(r.pool.QueryRow(ctx, `
		UPDATE engage_messages
		SET from_user_id = $2,
		    title = $3,
		    content = $4,
		    kind = $5,
		    method = $6,
		    is_live = $7,
		    rules = $8,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+engageMessageColumns+`
	`,
		message.ID,
		message.FromUserID,
		message.Title,
		message.Content,
		message.Kind,
		message.Method,
		message.IsLive,
		ensureJSON(message.Rules, "[]"),
	))
	if err != nil {
		return EngageMessage{}, fmt.Errorf("update engage message: %w", err)
	}

	return updated, nil
}

// GetEngageMessage retrieves a single engage message by id. Returns
// pgx.ErrNoRows (wrapped) if not found.
func (r *PostgresRepository) GetEngageMessage(ctx context.Context, id string) (EngageMessage, error) {
	message, err := scanEngageMessage(r.pool.QueryRow(ctx, `
		SELECT `+engageMessageColumns+`
		FROM engage_messages
		WHERE id = $1
	`, id))
	if err != nil {
		return EngageMessage{}, fmt.Errorf("get engage message: %w", err)
	}

	return message, nil
}

// ListEngageMessages returns all engage messages for a brand ordered by
// creation time.
func (r *PostgresRepository) ListEngageMessages(ctx context.Context, brandID string) ([]EngageMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+engageMessageColumns+`
		FROM engage_messages
		WHERE brand_id = $1
		ORDER BY created_at
	`, brandID)
	if err != nil {
		return nil, fmt.Errorf("list engage messages: %w", err)
	}
	defer rows.Close()

	messages := make([]EngageMessage, 0)
	for rows.Next() {
		message, err := scanEngageMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan engage message: %w", err)
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list engage messages rows: %w", err)
	}

	return messages, nil
}

// DeleteEngageMessage removes an engage message by id. Returns pgx.ErrNoRows
// (wrapped) if the message does not exist.
func (r *PostgresRepository) DeleteEngageMessage(ctx context.Context, id string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM engage_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete engage message: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("delete engage message: %w", pgx.ErrNoRows)
	}

	return nil
}

// SetEngageMessageLive toggles a message's live flag. Returns pgx.ErrNoRows
// (wrapped) if the message does not exist.
func (r *PostgresRepository) SetEngageMessageLive(ctx context.Context, id string, isLive bool) (EngageMessage, error) {
	updated, err := scanEngageMessage(r.pool.QueryRow(ctx, `
		UPDATE engage_messages
		SET is_live = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+engageMessageColumns+`
	`, id, isLive))
	if err != nil {
		return EngageMessage{}, fmt.Errorf("set engage message live: %w", err)
	}

	return updated, nil
}

// ListCandidateMessages returns the live engage messages of the given kind
// and method for a brand that have not yet engaged the customer. The
// engaged-set anti-join is what makes a trigger idempotent per customer.
func (r *PostgresRepository) ListCandidateMessages(ctx context.Context, brandID, kind, method, customerID string) ([]EngageMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+engageMessageColumns+`
		FROM engage_messages m
		WHERE m.brand_id = $1
		  AND m.kind = $2
		  AND m.method = $3
		  AND m.is_live
		  AND NOT EXISTS (
			SELECT 1 FROM engage_message_customers ec
			WHERE ec.engage_message_id = m.id AND ec.customer_id = $4
		  )
		ORDER BY m.created_at
	`, brandID, kind, method, customerID)
	if err != nil {
		return nil, fmt.Errorf("list candidate messages: %w", err)
	}
	defer rows.Close()

	messages := make([]EngageMessage, 0)
	for rows.Next() {
		message, err := scanEngageMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate message: %w", err)
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidate messages rows: %w", err)
	}

	return messages, nil
}

// MarkEngaged records that a customer has been engaged by a message. The
// insert is an append to a set: concurrent identical appends collapse via
// ON CONFLICT DO NOTHING, so retries never double-mark.
func (r *PostgresRepository) MarkEngaged(ctx context.Context, messageID, customerID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO engage_message_customers (engage_message_id, customer_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, messageID, customerID)
	if err != nil {
		return fmt.Errorf("mark engaged: %w", err)
	}

	return nil
}

// HasEngaged reports whether a message has already engaged a customer.
func (r *PostgresRepository) HasEngaged(ctx context.Context, messageID, customerID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM engage_message_customers
			WHERE engage_message_id = $1 AND customer_id = $2
		)
	`, messageID, customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has engaged: %w", err)
	}

	return exists, nil
}
