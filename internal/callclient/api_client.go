package callclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/rooms"
)

// APIClient is an HTTP client for the call endpoints, authenticated with
// the user's bearer token.
type APIClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

func NewAPIClient(baseURL, accessToken string) *APIClient {
	return &APIClient{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// CreateSession calls POST /create.
func (c *APIClient) CreateSession(ctx context.Context, receiverID string, kind calls.Kind) (calls.CallSession, error) {
	var out struct {
		Session calls.CallSession `json:"session"`
	}
	body := map[string]string{"receiver_id": receiverID, "kind": string(kind)}
	if err := c.do(ctx, http.MethodPost, "/create", body, &out); err != nil {
		return calls.CallSession{}, err
	}
	return out.Session, nil
}

func (c *APIClient) IssueToken(ctx context.Context, sessionID string, role rooms.Role) (TokenGrant, error) {
	var out TokenGrant
	body := map[string]string{"session_id": sessionID, "role": string(role)}
	if err := c.do(ctx, http.MethodPost, "/token", body, &out); err != nil {
		return TokenGrant{}, err
	}
	return out, nil
}

func (c *APIClient) EndSession(ctx context.Context, sessionID string) (calls.CallSession, error) {
	var out struct {
		Session calls.CallSession `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/end/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return calls.CallSession{}, err
	}
	return out.Session, nil
}

func (c *APIClient) GetSession(ctx context.Context, sessionID string) (calls.SessionView, error) {
	var out struct {
		Session calls.SessionView `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return calls.SessionView{}, err
	}
	return out.Session, nil
}

// do maps non-200 responses back onto the calls error taxonomy so callers
// can branch with errors.Is.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("callclient: marshalling request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("callclient: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callclient: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("callclient: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.Unmarshal(respBody, &eb)
		return fmt.Errorf("%w: %s %s: status %d: %s", errorFor(resp.StatusCode), method, path, resp.StatusCode, eb.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("callclient: decoding response: %w", err)
	}
	return nil
}

var ErrUnavailable = errors.New("callclient: server unavailable")

func errorFor(status int) error {
	switch status {
	case http.StatusBadRequest:
		return calls.ErrValidation
	case http.StatusForbidden:
		return calls.ErrForbidden
	case http.StatusNotFound:
		return calls.ErrNotFound
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		return calls.ErrProvisioning
	}
}

var _ API = (*APIClient)(nil)
