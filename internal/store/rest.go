package store

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
)

// RESTRecords implements Records against the external admin-panel record
// store over its JSON API. The protocol core treats that store as the system
// of record; this client is the only channel to it.
type RESTRecords struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTRecords creates a client for the record store at baseURL. apiKey is
// sent as a bearer token when non-empty.
func NewRESTRecords(baseURL, apiKey string) *RESTRecords {
	return &RESTRecords{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// Close releases idle connections.
func (r *RESTRecords) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// do issues a request and decodes the JSON response into out (when non-nil).
// A 404 maps to ErrNotFound; any transport or 5xx failure surfaces as a
// wrapped error the services translate into a server-unavailable code.
func (r *RESTRecords) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build record store request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("record store request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("record store returned status %d: %s", resp.StatusCode, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode record store response: %w", err)
		}
	}
	return nil
}

func (r *RESTRecords) ConsoleByMAC(ctx context.Context, mac string) (*Console, error) {
	var c Console
	if err := r.do(ctx, http.MethodGet, "/api/consoles/"+url.PathEscape(mac)+"/", nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RESTRecords) UpsertConsole(ctx context.Context, c *Console) error {
	return r.do(ctx, http.MethodPost, "/api/consoles/", c, nil)
}

func (r *RESTRecords) TouchConsole(ctx context.Context, mac string, at time.Time) error {
	payload := map[string]string{"last_seen": at.UTC().Format(time.RFC3339)}
	return r.do(ctx, http.MethodPatch, "/api/consoles/"+url.PathEscape(mac)+"/", payload, nil)
}

func (r *RESTRecords) ProfileByID(ctx context.Context, id uint32) (*Profile, error) {
	var p Profile
	if err := r.do(ctx, http.MethodGet, fmt.Sprintf("/api/profiles/%d/", id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *RESTRecords) ProfileByUser(ctx context.Context, userID, gameID string) (*Profile, error) {
	q := url.Values{"user_id": {userID}, "game_id": {gameID}}
	var page struct {
		Results []Profile `json:"results"`
	}
	if err := r.do(ctx, http.MethodGet, "/api/profiles/?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	if len(page.Results) == 0 {
		return nil, ErrNotFound
	}
	return &page.Results[0], nil
}

func (r *RESTRecords) CreateProfile(ctx context.Context, p *Profile) (*Profile, error) {
	var created Profile
	if err := r.do(ctx, http.MethodPost, "/api/profiles/", p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *RESTRecords) ActiveBan(ctx context.Context, t BanType, identifier, gameID string) (*Ban, error) {
	q := url.Values{"ban_type": {string(t)}, "identifier": {identifier}}
	if gameID != "" {
		q.Set("game_id", gameID)
	}
	var page struct {
		Results []Ban `json:"results"`
	}
	if err := r.do(ctx, http.MethodGet, "/api/bans/active/?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range page.Results {
		if !page.Results[i].Expired(now) {
			return &page.Results[i], nil
		}
	}
	return nil, ErrNotFound
}

func (r *RESTRecords) RecordLogin(ctx context.Context, rec *LoginRecord) error {
	return r.do(ctx, http.MethodPost, "/api/nas-logins/", rec, nil)
}
