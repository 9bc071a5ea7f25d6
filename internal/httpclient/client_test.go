package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRequest_DecodesAndSetsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Server", "APISIX/3.9.1")
		_, _ = w.Write([]byte(`{"key":"/apisix/routes/r1"}`))
	}))
	defer server.Close()

	var out struct {
		Key string `json:"key"`
	}
	resp, err := SendRequest(context.Background(), server.Client(), "PUT", server.URL, map[string]string{"X-API-KEY": "secret"}, map[string]string{"uri": "/x"}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APISIX/3.9.1", resp.Header.Get("Server"))
	assert.Equal(t, "/apisix/routes/r1", out.Key)
}

func TestSendRequest_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Key not found"}`))
	}))
	defer server.Close()

	resp, err := SendRequest(context.Background(), server.Client(), "GET", server.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNetworkError(err))

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Contains(t, string(upstreamErr.Body), "Key not found")
}

func TestSendForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"tok"}`))
	}))
	defer server.Close()

	var out struct {
		AccessToken string `json:"access_token"`
	}
	_, err := SendForm(context.Background(), server.Client(), server.URL, nil, url.Values{"grant_type": {"password"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "tok", out.AccessToken)
}

func TestIsNetworkError_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := SendRequest(context.Background(), http.DefaultClient, "GET", addr, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.Equal(t, 0, StatusCode(err))
}
