package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPGateway talks to the provider control API.
//
//	POST {base}/rooms        create
//	GET  {base}/rooms/{id}   lookup; 404 means the room is gone
//
// Join tokens are signed locally and never require a provider round trip.
type HTTPGateway struct {
	httpClient *http.Client
	baseURL    string
	mgmt       *ManagementCredential
	issuer     *TokenIssuer
}

func NewHTTPGateway(baseURL string, mgmt *ManagementCredential, issuer *TokenIssuer) *HTTPGateway {
	return &HTTPGateway{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		mgmt:       mgmt,
		issuer:     issuer,
	}
}

// providerRoom is the control API room shape.
type providerRoom struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TemplateID  string    `json:"template_id"`
	Region      string    `json:"region"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

type providerError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (g *HTTPGateway) CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error) {
	if req.Name == "" {
		return Room{}, fmt.Errorf("%w: room name required", ErrInvalidRequest)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Room{}, fmt.Errorf("%w: marshalling request: %v", ErrProvider, err)
	}

	var pr providerRoom
	status, err := g.do(ctx, http.MethodPost, "/rooms", body, &pr)
	if err != nil {
		return Room{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return Room{}, fmt.Errorf("%w: create room returned status %d", ErrProvider, status)
	}
	if pr.ID == "" {
		return Room{}, fmt.Errorf("%w: create room returned no id", ErrProvider)
	}
	return Room{
		ID:          pr.ID,
		Name:        pr.Name,
		Description: pr.Description,
		TemplateID:  pr.TemplateID,
		Region:      pr.Region,
		Enabled:     pr.Enabled,
		CreatedAt:   pr.CreatedAt,
	}, nil
}

func (g *HTTPGateway) IssueToken(ctx context.Context, req JoinTokenRequest) (string, error) {
	return g.issuer.Issue(req)
}

func (g *HTTPGateway) ValidateRoom(ctx context.Context, roomID string) (bool, error) {
	if roomID == "" {
		return false, nil
	}
	var pr providerRoom
	status, err := g.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, &pr)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return pr.Enabled, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: get room returned status %d", ErrProvider, status)
	}
}

// do sends an authenticated request and decodes a 2xx JSON body into out.
// Non-2xx statuses are returned without error so callers can map them.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	tok, err := g.mgmt.Token()
	if err != nil {
		return 0, fmt.Errorf("%w: management credential: %v", ErrProvider, err)
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return 0, fmt.Errorf("%w: creating request: %v", ErrProvider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: sending request: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("%w: reading response: %v", ErrProvider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var pe providerError
		if json.Unmarshal(respBody, &pe) == nil && (pe.Message != "" || pe.Error != "") && resp.StatusCode != http.StatusNotFound {
			msg := pe.Message
			if msg == "" {
				msg = pe.Error
			}
			return resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, msg)
		}
		return resp.StatusCode, nil
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decoding response: %v", ErrProvider, err)
		}
	}
	return resp.StatusCode, nil
}

var _ Gateway = (*HTTPGateway)(nil)
