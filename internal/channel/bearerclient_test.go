package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone_StripsEverythingButDigits(t *testing.T) {
	assert.Equal(t, "5511999990000", normalizePhone("+55 (11) 99999-0000"))
	assert.Equal(t, "", normalizePhone("no digits here"))
}

func TestExtractMessageID_TriesVendorKeyVariants(t *testing.T) {
	cases := map[string]string{
		`{"message_id":"m1"}`: "m1",
		`{"id":"m2"}`:         "m2",
		`{"externalId":"m3"}`: "m3",
		`{"messageId":"m4"}`:  "m4",
		`{"unrelated":"x"}`:   "",
		`not json`:            "",
	}
	for body, want := range cases {
		assert.Equal(t, want, extractMessageID([]byte(body)), "body %s", body)
	}
}

func TestSend_StaticAPIKeySkipsLogin(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "m-1"})
	}))
	defer srv.Close()

	c := newBearerClient("test", srv.URL, "", "", "static-key", "", "", time.Second)
	result, err := c.send(context.Background(), map[string]string{"to": "123"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", result.ProviderMsgID)
	assert.Equal(t, "Bearer static-key", sawAuth)
}

func TestSend_AcquiresTokenViaLogin(t *testing.T) {
	logins := 0
	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins++
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		assert.Equal(t, "user", creds["username"])
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "fresh-token"})
	}))
	defer login.Close()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "m-2"})
	}))
	defer primary.Close()

	c := newBearerClient("test", primary.URL, "", login.URL, "", "user", "pass", time.Second)
	result, err := c.send(context.Background(), map[string]string{"to": "123"})
	require.NoError(t, err)
	assert.Equal(t, "m-2", result.ProviderMsgID)
	assert.Equal(t, 1, logins)

	// The token is cached for the next send.
	_, err = c.send(context.Background(), map[string]string{"to": "456"})
	require.NoError(t, err)
	assert.Equal(t, 1, logins)
}

func TestSend_ReauthenticatesOnceOn401(t *testing.T) {
	logins := 0
	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins++
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "token-" + string(rune('0'+logins))})
	}))
	defer login.Close()

	attempts := 0
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "m-3"})
	}))
	defer primary.Close()

	c := newBearerClient("test", primary.URL, "", login.URL, "", "user", "pass", time.Second)
	result, err := c.send(context.Background(), map[string]string{"to": "123"})
	require.NoError(t, err)
	assert.Equal(t, "m-3", result.ProviderMsgID)
	assert.Equal(t, 2, logins, "401 triggers exactly one re-authentication")
	assert.Equal(t, 2, attempts)
}

func TestSend_FallsBackToSecondEndpointOn400(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "m-4"})
	}))
	defer fallback.Close()

	c := newBearerClient("test", primary.URL, fallback.URL, "", "static-key", "", "", time.Second)
	result, err := c.send(context.Background(), map[string]string{"to": "123"})
	require.NoError(t, err)
	assert.Equal(t, "m-4", result.ProviderMsgID)
}

func TestSend_AllEndpointsFailingReturnsLastError(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	c := newBearerClient("test", down.URL, down.URL, "", "static-key", "", "", time.Second)
	_, err := c.send(context.Background(), map[string]string{"to": "123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSend_CircuitOpensAfterRepeatedTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead := srv.URL
	srv.Close()

	c := newBearerClient("test", dead, "", "", "static-key", "", "", time.Second)
	for i := 0; i < 6; i++ {
		_, err := c.send(context.Background(), map[string]string{"to": "123"})
		require.Error(t, err)
	}

	_, err := c.send(context.Background(), map[string]string{"to": "123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestSend_NoEndpointsConfigured(t *testing.T) {
	c := newBearerClient("test", "", "", "", "static-key", "", "", time.Second)
	_, err := c.send(context.Background(), map[string]string{"to": "123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no channel endpoint configured")
}
