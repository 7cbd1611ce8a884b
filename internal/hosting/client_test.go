package hosting

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/domainshop/internal/domain/provider"
)

func TestCreateAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		assert.Equal(t, "tok-1:hosting", r.Header.Get("Idempotency-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"plan":"starter"`)
		_, _ = io.WriteString(w, `{"id":"acc-1","username":"example","server":"web-3","createdAt":"2026-03-01T10:00:00Z"}`)
	}))
	defer srv.Close()

	c := New(provider.ClientConfig{BaseURL: srv.URL, Timeout: time.Second}, srv.Client(), nil)
	acc, err := c.CreateAccount(context.Background(), CreateAccountRequest{
		Domain:         "example.com",
		Plan:           "starter",
		CustomerID:     "cust-1",
		IdempotencyKey: "tok-1:hosting",
	})
	require.NoError(t, err)
	assert.Equal(t, "acc-1", acc.ID)
	assert.Equal(t, "web-3", acc.Server)
}

func TestFindAccount_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-2", r.URL.Query().Get("idempotency_key"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(provider.ClientConfig{BaseURL: srv.URL, Timeout: time.Second}, srv.Client(), nil)
	acc, err := c.FindAccount(context.Background(), "tok-2")
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestCreateAccount_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(provider.ClientConfig{BaseURL: srv.URL, Timeout: time.Second}, srv.Client(), nil)
	_, err := c.CreateAccount(context.Background(), CreateAccountRequest{Domain: "example.com", Plan: "starter"})
	require.ErrorIs(t, err, provider.ErrTransient)
}
