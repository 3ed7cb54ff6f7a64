package rtc

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
)

// HTTPRoomService talks to the provider's REST admin API and mints join
// tokens locally with the shared secret.
type HTTPRoomService struct {
	http    *http.Client
	baseURL string
	wsURL   string
	apiKey  string
	minter  *TokenMinter
	clock   func() time.Time
}

type ClientConfig struct {
	// BaseURL is the provider admin API, e.g. https://rtc.example.com.
	BaseURL string
	// WSURL is the client-facing connect URL handed out in credentials.
	WSURL     string
	APIKey    string
	APISecret string
	// CredentialTTL bounds how long a minted join token stays valid.
	CredentialTTL time.Duration
	// Timeout applies to every admin API call.
	Timeout time.Duration
}

func NewHTTPRoomService(cfg ClientConfig) (*HTTPRoomService, error) {
	if cfg.BaseURL == "" || cfg.WSURL == "" {
		return nil, fmt.Errorf("rtc base url and ws url are required")
	}
	minter, err := NewTokenMinter(cfg.APIKey, cfg.APISecret, cfg.CredentialTTL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRoomService{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		wsURL:   cfg.WSURL,
		apiKey:  cfg.APIKey,
		minter:  minter,
		clock:   time.Now,
	}, nil
}

func (s *HTTPRoomService) Name() string { return "http" }

func (s *HTTPRoomService) HealthCheck(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateOrGetRoom provisions the live room. The provider treats creation
// as idempotent on name; an existing room is returned as-is.
func (s *HTTPRoomService) CreateOrGetRoom(ctx context.Context, roomName string) (Room, error) {
	body := map[string]any{"name": roomName}
	var out Room
	if err := s.do(ctx, http.MethodPost, "/rooms", body, &out); err != nil {
		return Room{}, fmt.Errorf("create room %q: %w", roomName, err)
	}
	if out.Name == "" {
		out.Name = roomName
	}
	return out, nil
}

// DestroyRoom tears the live room down. A 404 from the provider is
// treated as success: the room is gone either way.
func (s *HTTPRoomService) DestroyRoom(ctx context.Context, roomName string) error {
	err := s.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(roomName), nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("destroy room %q: %w", roomName, err)
	}
	return nil
}

func (s *HTTPRoomService) GenerateJoinCredential(ctx context.Context, identity, roomName string, perms Permissions, metadata map[string]string) (JoinCredential, error) {
	token, err := s.minter.Mint(s.clock().UTC(), identity, roomName, perms, metadata)
	if err != nil {
		return JoinCredential{}, fmt.Errorf("mint credential for %q: %w", identity, err)
	}
	return JoinCredential{URL: s.wsURL, Token: token}, nil
}

func (s *HTTPRoomService) UpdateRoomMetadata(ctx context.Context, roomName string, patch map[string]string) error {
	body := map[string]any{"metadata": patch}
	if err := s.do(ctx, http.MethodPatch, "/rooms/"+url.PathEscape(roomName)+"/metadata", body, nil); err != nil {
		return fmt.Errorf("update metadata on %q: %w", roomName, err)
	}
	return nil
}

func (s *HTTPRoomService) RemoveParticipant(ctx context.Context, roomName, identity string) error {
	path := "/rooms/" + url.PathEscape(roomName) + "/participants/" + url.PathEscape(identity)
	err := s.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove participant %q from %q: %w", identity, roomName, err)
	}
	return nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("rtc api: %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.status == http.StatusNotFound
}

func (s *HTTPRoomService) do(ctx context.Context, method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		var b bytes.Buffer
		if err := json.NewEncoder(&b).Encode(body); err != nil {
			return err
		}
		buf = &b
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{status: resp.StatusCode, body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
