// ABOUTME: REST calls of the client: conversation listing, group joins, unread reconciliation
// ABOUTME: Errors carry the gateway's status code and message

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/2389/huddle-gateway/internal/protocol"
)

// APIError is a non-2xx answer from the gateway
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// Conversations lists this user's conversations, most recently updated first.
// A user with no conversations gets an empty slice.
func (c *Client) Conversations(ctx context.Context) ([]protocol.Conversation, error) {
	var resp struct {
		Conversations []protocol.Conversation `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/chat/conversations", url.Values{"userId": {c.userID}}, nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return []protocol.Conversation{}, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Join adds this user to an existing group
func (c *Client) Join(ctx context.Context, groupID string) error {
	body := map[string]string{"userId": c.userID, "groupId": groupID}
	return c.do(ctx, http.MethodPost, "/chat/join", nil, body, nil)
}

// Unread fetches what this user missed while unreachable and reseeds the
// tally from it.
func (c *Client) Unread(ctx context.Context) (*protocol.UnreadMessages, error) {
	var resp protocol.UnreadMessages
	if err := c.do(ctx, http.MethodGet, "/chat/unread-messages", url.Values{"userId": {c.userID}}, nil, &resp); err != nil {
		return nil, err
	}
	c.tally.Seed(resp.Conversations)
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
