// Package http provides an HTTP client for the engage visitor-targeting service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	engage "github.com/matt-riley/engage/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the engage server, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements engage.MessageManager and engage.Connector over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClient returns a new HTTP client for the engage service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// -- wire types --------------------------------------------------------------

type wireMessage struct {
	ID         string          `json:"id,omitempty"`
	BrandID    string          `json:"brand_id"`
	FromUserID string          `json:"from_user_id"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	Kind       string          `json:"kind"`
	Method     string          `json:"method"`
	IsLive     bool            `json:"is_live"`
	Rules      json.RawMessage `json:"rules,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
	UpdatedAt  string          `json:"updated_at,omitempty"`
}

type wireRule struct {
	Kind      string `json:"kind"`
	Condition string `json:"condition"`
	Value     any    `json:"value,omitempty"`
}

type wireConnectRequest struct {
	BrandCode  string `json:"brand_code"`
	CustomerID string `json:"customer_id"`
	Browser    struct {
		Language string `json:"language"`
		URL      string `json:"url"`
	} `json:"browser"`
}

type wireEngagement struct {
	Conversation wireConversation `json:"conversation"`
	Message      wireConvMessage  `json:"message"`
}

type wireConversation struct {
	ID            string `json:"id"`
	IntegrationID string `json:"integration_id"`
	CustomerID    string `json:"customer_id"`
	UserID        string `json:"user_id"`
	Content       string `json:"content"`
	CreatedAt     string `json:"created_at"`
}

type wireConvMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	CustomerID     string `json:"customer_id"`
	UserID         string `json:"user_id"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("engage: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("engage: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engage: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(msg)}
	}
	return resp, nil
}

// errorMessage extracts the "error" field from a JSON error body, falling
// back to the raw body for non-JSON responses.
func errorMessage(body []byte) string {
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		return wire.Error
	}
	return strings.TrimSpace(string(body))
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engage: HTTP %d: %s", e.StatusCode, e.Message)
}

func decodeMessage(wm wireMessage) (engage.EngageMessage, error) {
	m := engage.EngageMessage{
		ID:         wm.ID,
		BrandID:    wm.BrandID,
		FromUserID: wm.FromUserID,
		Title:      wm.Title,
		Content:    wm.Content,
		Kind:       wm.Kind,
		Method:     wm.Method,
		IsLive:     wm.IsLive,
		CreatedAt:  parseTime(wm.CreatedAt),
		UpdatedAt:  parseTime(wm.UpdatedAt),
	}
	if len(wm.Rules) > 0 && string(wm.Rules) != "null" {
		var wr []wireRule
		if err := json.Unmarshal(wm.Rules, &wr); err != nil {
			return m, fmt.Errorf("engage: decode rules: %w", err)
		}
		m.Rules = make([]engage.Rule, len(wr))
		for i, r := range wr {
			m.Rules[i] = engage.Rule{Kind: r.Kind, Condition: r.Condition, Value: r.Value}
		}
	}
	return m, nil
}

func encodeMessage(m engage.EngageMessage) (wireMessage, error) {
	wm := wireMessage{
		ID:         m.ID,
		BrandID:    m.BrandID,
		FromUserID: m.FromUserID,
		Title:      m.Title,
		Content:    m.Content,
		Kind:       m.Kind,
		Method:     m.Method,
		IsLive:     m.IsLive,
	}
	if len(m.Rules) > 0 {
		rules := make([]wireRule, len(m.Rules))
		for i, r := range m.Rules {
			rules[i] = wireRule{Kind: r.Kind, Condition: r.Condition, Value: r.Value}
		}
		b, err := json.Marshal(rules)
		if err != nil {
			return wm, err
		}
		wm.Rules = b
	}
	return wm, nil
}

func decodeEngagement(we wireEngagement) engage.Engagement {
	return engage.Engagement{
		Conversation: engage.Conversation{
			ID:            we.Conversation.ID,
			IntegrationID: we.Conversation.IntegrationID,
			CustomerID:    we.Conversation.CustomerID,
			UserID:        we.Conversation.UserID,
			Content:       we.Conversation.Content,
			CreatedAt:     parseTime(we.Conversation.CreatedAt),
		},
		Message: engage.Message{
			ID:             we.Message.ID,
			ConversationID: we.Message.ConversationID,
			CustomerID:     we.Message.CustomerID,
			UserID:         we.Message.UserID,
			Content:        we.Message.Content,
			CreatedAt:      parseTime(we.Message.CreatedAt),
		},
	}
}

// parseTime decodes an RFC3339 timestamp, returning the zero time on any
// parse failure so a malformed server timestamp never fails the whole call.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// -- MessageManager ----------------------------------------------------------

func (c *Client) CreateMessage(ctx context.Context, msg engage.EngageMessage) (engage.EngageMessage, error) {
	wm, err := encodeMessage(msg)
	if err != nil {
		return engage.EngageMessage{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/engage-messages", wm)
	if err != nil {
		return engage.EngageMessage{}, err
	}
	defer resp.Body.Close()
	var out wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return engage.EngageMessage{}, fmt.Errorf("engage: decode response: %w", err)
	}
	return decodeMessage(out)
}

func (c *Client) GetMessage(ctx context.Context, id string) (engage.EngageMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/engage-messages/"+url.PathEscape(id), nil)
	if err != nil {
		return engage.EngageMessage{}, err
	}
	defer resp.Body.Close()
	var out wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return engage.EngageMessage{}, fmt.Errorf("engage: decode response: %w", err)
	}
	return decodeMessage(out)
}

func (c *Client) ListMessages(ctx context.Context, brandID string) ([]engage.EngageMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/engage-messages?brand_id="+url.QueryEscape(brandID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("engage: decode response: %w", err)
	}
	messages := make([]engage.EngageMessage, 0, len(out))
	for _, wm := range out {
		m, err := decodeMessage(wm)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (c *Client) UpdateMessage(ctx context.Context, msg engage.EngageMessage) (engage.EngageMessage, error) {
	wm, err := encodeMessage(msg)
	if err != nil {
		return engage.EngageMessage{}, err
	}
	resp, err := c.do(ctx, http.MethodPut, "/v1/engage-messages/"+url.PathEscape(msg.ID), wm)
	if err != nil {
		return engage.EngageMessage{}, err
	}
	defer resp.Body.Close()
	var out wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return engage.EngageMessage{}, fmt.Errorf("engage: decode response: %w", err)
	}
	return decodeMessage(out)
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/engage-messages/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) SetMessageLive(ctx context.Context, id string, isLive bool) (engage.EngageMessage, error) {
	body := map[string]bool{"is_live": isLive}
	resp, err := c.do(ctx, http.MethodPut, "/v1/engage-messages/"+url.PathEscape(id)+"/live", body)
	if err != nil {
		return engage.EngageMessage{}, err
	}
	defer resp.Body.Close()
	var out wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return engage.EngageMessage{}, fmt.Errorf("engage: decode response: %w", err)
	}
	return decodeMessage(out)
}

// -- Connector ---------------------------------------------------------------

func (c *Client) Connect(ctx context.Context, req engage.ConnectRequest) ([]engage.Engagement, error) {
	var wire wireConnectRequest
	wire.BrandCode = req.BrandCode
	wire.CustomerID = req.CustomerID
	wire.Browser.Language = req.Browser.Language
	wire.Browser.URL = req.Browser.URL

	resp, err := c.do(ctx, http.MethodPost, "/v1/visitors/connect", wire)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Engagements []wireEngagement `json:"engagements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("engage: decode response: %w", err)
	}
	engagements := make([]engage.Engagement, len(out.Engagements))
	for i, we := range out.Engagements {
		engagements[i] = decodeEngagement(we)
	}
	return engagements, nil
}
