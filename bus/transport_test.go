package bus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/types"
)

func TestNewHTTPTransport_Validation(t *testing.T) {
	_, err := NewHTTPTransport(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewHTTPTransport(&HTTPTransportConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestHTTPTransport_DeliverSuccess(t *testing.T) {
	var gotPath string
	var gotContentType string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(&HTTPTransportConfig{BaseURL: server.URL}, zap.NewNop())
	require.NoError(t, err)
	defer transport.Close()

	env := taskEnvelope()
	result := transport.Deliver(context.Background(), env)

	assert.True(t, result.Success)
	assert.Equal(t, env.ID, result.MessageID)
	assert.Equal(t, []string{transport.Name()}, result.DeliveredTo)
	assert.Equal(t, "/messages", gotPath)
	assert.Equal(t, "application/json", gotContentType)

	var decoded envelope.Envelope
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, types.TypeTaskAssigned, decoded.Type)
}

func TestHTTPTransport_TrailingSlashBaseURL(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(&HTTPTransportConfig{BaseURL: server.URL + "/"}, zap.NewNop())
	require.NoError(t, err)

	result := transport.Deliver(context.Background(), taskEnvelope())
	assert.True(t, result.Success)
	assert.Equal(t, "/messages", gotPath)
}

func TestHTTPTransport_CustomHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(&HTTPTransportConfig{
		BaseURL: server.URL,
		Headers: map[string]string{"Authorization": "Bearer token-1"},
	}, zap.NewNop())
	require.NoError(t, err)

	result := transport.Deliver(context.Background(), taskEnvelope())
	assert.True(t, result.Success)
	assert.Equal(t, "Bearer token-1", gotAuth)
}

func TestHTTPTransport_ServerErrorSurfacesStatus(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "downstream exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(&HTTPTransportConfig{BaseURL: server.URL}, zap.NewNop())
	require.NoError(t, err)

	result := transport.Deliver(context.Background(), taskEnvelope())

	assert.False(t, result.Success)
	assert.Empty(t, result.DeliveredTo)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "HTTP 500 Internal Server Error")
	// remote failures are reported, never retried here
	assert.Equal(t, int64(1), calls.Load())
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	transport, err := NewHTTPTransport(&HTTPTransportConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: 500 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	result := transport.Deliver(context.Background(), taskEnvelope())
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
}

func TestHTTPTransport_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(&HTTPTransportConfig{BaseURL: server.URL}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := transport.Deliver(ctx, taskEnvelope())
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
}

func TestHTTPTransport_Name(t *testing.T) {
	transport, err := NewHTTPTransport(&HTTPTransportConfig{BaseURL: "https://hub.example.com"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http:https://hub.example.com", transport.Name())
}
