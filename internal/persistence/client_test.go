package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vin-service/internal/domain/vin"
)

func testResult() vin.ScanResult {
	material := "metal"
	return vin.ScanResult{
		VIN:            "1HGCM82673A123456",
		CapturedAt:     time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Geolocation:    &vin.Geolocation{Lat: 51.5, Lng: -0.12},
		MaterialOrKind: &material,
		Recognizer:     "ocr",
	}
}

func TestClient_Submit(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected vin.Outcome
		wantErr  bool
	}{
		{name: "created", status: http.StatusCreated, body: `{"status":"created","vin":"1HGCM82673A123456"}`, expected: vin.OutcomeSaved},
		{name: "ok with created status", status: http.StatusOK, body: `{"status":"created"}`, expected: vin.OutcomeSaved},
		{name: "conflict", status: http.StatusConflict, body: `{"status":"duplicate"}`, expected: vin.OutcomeDuplicate},
		{name: "already exists message", status: http.StatusBadRequest, body: `{"error":"VIN already exists"}`, expected: vin.OutcomeDuplicate},
		{name: "already exists plain text", status: http.StatusBadRequest, body: `VIN already exists`, expected: vin.OutcomeDuplicate},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"invalid input: vin fails checksum"}`, expected: vin.OutcomePermanentError, wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"invalid token"}`, expected: vin.OutcomePermanentError, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"internal error"}`, expected: vin.OutcomeTransientError, wantErr: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: ``, expected: vin.OutcomeTransientError, wantErr: true},
		{name: "request timeout", status: http.StatusRequestTimeout, body: ``, expected: vin.OutcomeTransientError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			outcome, err := NewClient(server.Client(), server.URL, "token").Submit(context.Background(), testResult())
			assert.Equal(t, tt.expected, outcome)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_Submit_RequestShape(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/vin/scans", r.URL.Path)
		assert.Equal(t, "Bearer device-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	outcome, err := NewClient(server.Client(), server.URL+"/", "device-token").Submit(context.Background(), testResult())
	require.NoError(t, err)
	assert.Equal(t, vin.OutcomeSaved, outcome)

	assert.Equal(t, "1HGCM82673A123456", received["vin"])
	assert.Equal(t, "metal", received["material_kind"])
	assert.Equal(t, "2026-01-02T15:04:05Z", received["captured_at"])
	assert.Equal(t, map[string]interface{}{"lat": 51.5, "lng": -0.12}, received["geolocation"])
	assert.Nil(t, received["source_ip"])
}

func TestClient_Submit_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome, err := NewClient(server.Client(), server.URL, "").Submit(ctx, testResult())
	assert.Equal(t, vin.OutcomeTransientError, outcome)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Submit_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	outcome, err := NewClient(http.DefaultClient, url, "").Submit(context.Background(), testResult())
	assert.Equal(t, vin.OutcomeTransientError, outcome)
	assert.Error(t, err)
}
