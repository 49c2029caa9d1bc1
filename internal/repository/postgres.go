// Package repository provides PostgreSQL-backed persistence for the engage
// server: brands, messenger integrations, users, customers, engage messages
// with their engaged-customer sets, and the conversations and messages an
// auto-engagement creates.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Brand is a tenant namespace; integrations and engage messages belong to a
// brand, and the public trigger surface addresses brands by code.
type Brand struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Integration is one installed channel (e.g. the web messenger) for a brand.
type Integration struct {
	ID                   string    `json:"id"`
	BrandID              string    `json:"brand_id"`
	Kind                 string    `json:"kind"`
	Name                 string    `json:"name"`
	HideConversationList bool      `json:"hide_conversation_list"`
	CreatedAt            time.Time `json:"created_at"`
}

// User is a team member; engage messages are sent on behalf of one.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Position  string    `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is a site visitor known to an integration. SessionCount is the
// number of messenger sessions the visitor has opened and feeds the
// numberOfVisits rule field.
type Customer struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integration_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	SessionCount  int       `json:"session_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewPgxPool opens a pgx connection pool for the given database URL.
func NewPgxPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return pool, nil
}

// PostgresRepository implements engage persistence backed by a pgxpool
// connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a [PostgresRepository] over the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// CreateBrand inserts a new brand.
func (r *PostgresRepository) CreateBrand(ctx context.Context, code, name string) (Brand, error) {
	var brand Brand
	err := r.pool.QueryRow(ctx, `
		INSERT INTO brands (id, code, name)
		VALUES ($1, $2, $3)
		RETURNING id, code, name, created_at
	`, uuid.NewString(), code, name).Scan(
		&brand.ID,
		&brand.Code,
		&brand.Name,
		&brand.CreatedAt,
	)
	if err != nil {
		return Brand{}, fmt.Errorf("create brand: %w", err)
	}

	return brand, nil
}

// CreateIntegration inserts a new integration for a brand.
func (r *PostgresRepository) CreateIntegration(ctx context.Context, integration Integration) (Integration, error) {
	var created Integration
	err := r.pool.QueryRow(ctx, `
		INSERT INTO integrations (id, brand_id, kind, name, hide_conversation_list)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, brand_id, kind, name, hide_conversation_list, created_at
	`,
		uuid.NewString(),
		integration.BrandID,
		integration.Kind,
		integration.Name,
		integration.HideConversationList,
	).Scan(
		&created.ID,
		&created.BrandID,
		&created.Kind,
		&created.Name,
		&created.HideConversationList,
		&created.CreatedAt,
	)
	if err != nil {
		return Integration{}, fmt.Errorf("create integration: %w", err)
	}

	return created, nil
}

// GetIntegration resolves a brand by code and its integration of the given
// kind in one query. Returns pgx.ErrNoRows (wrapped) if either is missing.
func (r *PostgresRepository) GetIntegration(ctx context.Context, brandCode, kind string) (Brand, Integration, error) {
	var brand Brand
	var integration Integration
	err := r.pool.QueryRow(ctx, `
		SELECT b.id, b.code, b.name, b.created_at,
		       i.id, i.brand_id, i.kind, i.name, i.hide_conversation_list, i.created_at
		FROM integrations i
		JOIN brands b ON b.id = i.brand_id
		WHERE b.code = $1 AND i.kind = $2
	`, brandCode, kind).Scan(
		&brand.ID,
		&brand.Code,
		&brand.Name,
		&brand.CreatedAt,
		&integration.ID,
		&integration.BrandID,
		&integration.Kind,
		&integration.Name,
		&integration.HideConversationList,
		&integration.CreatedAt,
	)
	if err != nil {
		return Brand{}, Integration{}, fmt.Errorf("get integration: %w", err)
	}

	return brand, integration, nil
}

// CreateUser inserts a new user.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (User, error) {
	var created User
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, full_name, position, created_at
	`, uuid.NewString(), user.Email, user.FullName, user.Position).Scan(
		&created.ID,
		&created.Email,
		&created.FullName,
		&created.Position,
		&created.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}

	return created, nil
}

// GetUser retrieves a user by id. Returns pgx.ErrNoRows (wrapped) if not
// found.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, full_name, position, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.Position,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// CreateCustomer inserts a new customer.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	var created Customer
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customers (id, integration_id, name, email, session_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, integration_id, name, email, session_count, created_at
	`,
		uuid.NewString(),
		customer.IntegrationID,
		customer.Name,
		customer.Email,
		customer.SessionCount,
	).Scan(
		&created.ID,
		&created.IntegrationID,
		&created.Name,
		&created.Email,
		&created.SessionCount,
		&created.CreatedAt,
	)
	if err != nil {
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}

	return created, nil
}

// GetCustomer retrieves a customer by id. Returns pgx.ErrNoRows (wrapped) if
// not found.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id string) (Customer, error) {
	var customer Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id, integration_id, name, email, session_count, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(
		&customer.ID,
		&customer.IntegrationID,
		&customer.Name,
		&customer.Email,
		&customer.SessionCount,
		&customer.CreatedAt,
	)
	if err != nil {
		return Customer{}, fmt.Errorf("get customer: %w", err)
	}

	return customer, nil
}

// IncCustomerSession bumps a customer's session count and returns the new
// value. Returns pgx.ErrNoRows (wrapped) if the customer does not exist.
func (r *PostgresRepository) IncCustomerSession(ctx context.Context, id string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE customers
		SET session_count = session_count + 1
		WHERE id = $1
		RETURNING session_count
	`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("inc customer session: %w", err)
	}

	return count, nil
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}
