package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// bearerClient implements the token lifecycle and endpoint-fallback
// algorithm shared by the WhatsApp and SMS channels: a static API key
// is used if present, otherwise a token is acquired via a login
// endpoint; each send tries a primary then a fallback endpoint,
// re-authenticating once on 401 and skipping straight to the next
// endpoint variant on 400/404/415.
//
// The Notifier sends sequentially within one alert, but scheduler ticks
// can overlap with HTTP handlers that share a channel client, so the
// cached token is guarded by a mutex.
//
// The transport leg runs behind a gobreaker.CircuitBreaker: a gateway
// that stops answering fails fast across the rest of the Notifier's
// batch instead of eating a full timeout per alert. HTTP error statuses
// don't trip it; those are handled by the endpoint-fallback logic.
type bearerClient struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	primaryURL  string
	fallbackURL string
	loginURL    string

	staticAPIKey string
	username     string
	password     string

	mu    sync.Mutex
	token string
}

var messageIDKeys = []string{"message_id", "id", "externalId", "messageId"}

var nonDigits = regexp.MustCompile(`\D`)

// normalizePhone strips everything but digits.
func normalizePhone(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

func newBearerClient(name, primaryURL, fallbackURL, loginURL, staticAPIKey, username, password string, timeout time.Duration) *bearerClient {
	return &bearerClient{
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		primaryURL:   primaryURL,
		fallbackURL:  fallbackURL,
		loginURL:     loginURL,
		staticAPIKey: staticAPIKey,
		username:     username,
		password:     password,
	}
}

func (c *bearerClient) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.staticAPIKey != "" {
		return c.staticAPIKey, nil
	}
	if c.token != "" {
		return c.token, nil
	}
	return c.login(ctx)
}

// login acquires a fresh token via client-login/login and caches it.
// Caller must hold c.mu.
func (c *bearerClient) login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("channel login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("channel login returned %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	c.token = out.Token
	return c.token, nil
}

func (c *bearerClient) reauthenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	if c.staticAPIKey != "" {
		return c.staticAPIKey, nil
	}
	return c.login(ctx)
}

// send tries the primary endpoint, then the fallback, applying the
// re-auth-once-on-401 / skip-on-400-404-415 rules, and returns the
// message id pulled from whichever vendor key is present.
func (c *bearerClient) send(ctx context.Context, payload any) (Result, error) {
	endpoints := []string{c.primaryURL, c.fallbackURL}
	reauthenticated := false

	var lastErr error
	for _, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		msgID, err := c.attempt(ctx, endpoint, payload, &reauthenticated)
		if err == nil {
			return Result{ProviderMsgID: msgID}, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no channel endpoint configured")
	}
	return Result{}, lastErr
}

func (c *bearerClient) attempt(ctx context.Context, endpoint string, payload any, reauthenticated *bool) (string, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return "", err
	}

	status, respBody, err := c.doRequest(ctx, endpoint, token, payload)
	if err != nil {
		return "", err
	}

	switch {
	case status < 300:
		return extractMessageID(respBody), nil
	case status == http.StatusUnauthorized && !*reauthenticated:
		*reauthenticated = true
		token, err = c.reauthenticate(ctx)
		if err != nil {
			return "", err
		}
		status, respBody, err = c.doRequest(ctx, endpoint, token, payload)
		if err != nil {
			return "", err
		}
		if status < 300 {
			return extractMessageID(respBody), nil
		}
		return "", fmt.Errorf("channel endpoint %s returned %d after re-auth", endpoint, status)
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnsupportedMediaType:
		return "", fmt.Errorf("channel endpoint %s returned %d", endpoint, status)
	default:
		return "", fmt.Errorf("channel endpoint %s returned %d", endpoint, status)
	}
}

func (c *bearerClient) doRequest(ctx context.Context, endpoint, token string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	type httpResult struct {
		status int
		body   []byte
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return httpResult{status: resp.StatusCode, body: respBody}, nil
	})
	if err != nil {
		return 0, nil, err
	}
	r := result.(httpResult)
	return r.status, r.body, nil
}

func extractMessageID(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range messageIDKeys {
		if v, ok := fields[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
