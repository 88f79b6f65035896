package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"batterycounter/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPClient_PostLog_Success(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/log", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/log", server.URL+"/stats", "secret", time.Second, testLogger())
	receipt, err := client.PostLog(context.Background(), core.CountEvent{
		ID: "evt_1", OccurredAt: 1700000000, Quantity: 1, DeviceID: "rpi4_1",
	})

	require.NoError(t, err)
	assert.True(t, receipt.OK)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, "evt_1", got["event_id"])
	assert.Equal(t, float64(1700000000), got["timestamp"])
	assert.Equal(t, float64(1), got["amount"])
	assert.Equal(t, "rpi4_1", got["device_id"])
}

func TestHTTPClient_PostLog_Duplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"duplicate":true}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.URL, "", time.Second, testLogger())
	receipt, err := client.PostLog(context.Background(), core.CountEvent{ID: "evt_1", OccurredAt: 1, Quantity: 1, DeviceID: "d"})

	require.NoError(t, err)
	assert.True(t, receipt.Duplicate)
}

func TestHTTPClient_NoTokenNoAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.URL, "", time.Second, testLogger())
	receipt, err := client.PostLog(context.Background(), core.CountEvent{ID: "evt_1", OccurredAt: 1, Quantity: 1, DeviceID: "d"})

	require.NoError(t, err)
	assert.True(t, receipt.OK)
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusMethodNotAllowed, false},
		{http.StatusConflict, false},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, server.URL, "", time.Second, testLogger())
			_, err := client.PostLog(context.Background(), core.CountEvent{ID: "evt_1", OccurredAt: 1, Quantity: 1, DeviceID: "d"})

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Contains(t, apiErr.Body, "nope")
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestHTTPClient_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewHTTPClient(url, url, "", time.Second, testLogger())
	_, err := client.PostLog(context.Background(), core.CountEvent{ID: "evt_1", OccurredAt: 1, Quantity: 1, DeviceID: "d"})

	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewHTTPClient(server.URL, server.URL, "", 50*time.Millisecond, testLogger())
	_, err := client.GetStats(context.Background())

	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestHTTPClient_GetStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/stats", r.URL.Path)
		w.Write([]byte(`{"total":150,"soil":3,"water":22.5}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/log", server.URL+"/stats", "", time.Second, testLogger())
	stats, err := client.GetStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, core.Stats{Total: 150, Soil: 3, Water: 22.5}, *stats)
}

func TestHTTPClient_GetStats_BadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.URL, "", time.Second, testLogger())
	_, err := client.GetStats(context.Background())
	assert.Error(t, err)
}

func TestIsPermanent_PlainError(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("boom")))
	assert.True(t, IsPermanent(&APIError{StatusCode: 400}))
}
