package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDoJSONRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-123", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"subject": "hi"}`, string(body))

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"queued": true}`))
	}))
	defer srv.Close()

	client := New(zap.NewNop())
	resp, err := client.Do(context.Background(), RequestSpec{
		Method:  http.MethodPost,
		URL:     srv.URL + "/v3/mail/send",
		Headers: map[string]string{"Authorization": "Bearer sk-123"},
		JSON:    map[string]interface{}{"subject": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, resp.Success())

	var decoded map[string]interface{}
	require.NoError(t, resp.JSON(&decoded))
	assert.Equal(t, true, decoded["queued"])
}

func TestDoFormRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "key-123", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "bob@example.com", r.PostForm.Get("to"))

		w.Write([]byte(`{"id": "msg-1"}`))
	}))
	defer srv.Close()

	client := New(zap.NewNop())
	resp, err := client.Do(context.Background(), RequestSpec{
		Method: http.MethodPost,
		URL:    srv.URL + "/messages",
		Auth:   &BasicAuth{Username: "api", Password: "key-123"},
		Form:   url.Values{"to": {"bob@example.com"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success())
}

func TestDoAppendsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := New(zap.NewNop())
	_, err := client.Do(context.Background(), RequestSpec{
		Method: http.MethodGet,
		URL:    srv.URL + "/latest?page=1",
		Query:  url.Values{"base": {"USD"}},
	})
	require.NoError(t, err)
}

func TestDoClientErrorIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "no such domain"}`))
	}))
	defer srv.Close()

	client := New(zap.NewNop())
	resp, err := client.Do(context.Background(), RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, resp.Success())
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(zap.NewNop())
	spec := RequestSpec{Method: http.MethodGet, URL: srv.URL}

	// 5xx replies surface to the caller while counting against the breaker.
	for i := 0; i < 6; i++ {
		resp, err := client.Do(context.Background(), spec)
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}

	_, err := client.Do(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestBreakersAreIsolatedPerHost(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer up.Close()

	client := New(zap.NewNop())
	for i := 0; i < 7; i++ {
		client.Do(context.Background(), RequestSpec{Method: http.MethodGet, URL: down.URL})
	}

	resp, err := client.Do(context.Background(), RequestSpec{Method: http.MethodGet, URL: up.URL})
	require.NoError(t, err)
	assert.True(t, resp.Success())
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 content"))
	}))
	defer srv.Close()

	client := New(zap.NewNop())
	body, resp, err := client.Stream(context.Background(), RequestSpec{
		Method: http.MethodGet,
		URL:    srv.URL + "/files/doc.pdf",
	})
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", string(content))
}

func TestStreamHandsBackServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("renderer blew up"))
	}))
	defer srv.Close()

	client := New(zap.NewNop())
	body, resp, err := client.Stream(context.Background(), RequestSpec{
		Method: http.MethodPost,
		URL:    srv.URL,
	})
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestDoRejectsBadURL(t *testing.T) {
	client := New(zap.NewNop())

	_, err := client.Do(context.Background(), RequestSpec{Method: http.MethodGet, URL: "/relative/only"})
	assert.Error(t, err)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://api.ote-godaddy.com/v1/domains/available",
		JoinURL("https://api.ote-godaddy.com/v1/", "domains", "available"))
	assert.Equal(t, "http://api.fixer.io/latest", JoinURL("http://api.fixer.io", "/latest"))
	assert.Equal(t, "https://host/a/b", JoinURL("https://host", "a/", "/b/"))
}
