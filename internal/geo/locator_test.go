package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vin-service/internal/domain/vin"
)

type blockingLocator struct{}

func (blockingLocator) CurrentPosition(ctx context.Context) (*vin.Geolocation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingLocator struct{}

func (failingLocator) CurrentPosition(_ context.Context) (*vin.Geolocation, error) {
	return nil, assert.AnError
}

func TestStatic(t *testing.T) {
	pos, err := Static{Position: vin.Geolocation{Lat: 51.5, Lng: -0.12}}.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &vin.Geolocation{Lat: 51.5, Lng: -0.12}, pos)
}

func TestNone(t *testing.T) {
	_, err := None{}.CurrentPosition(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPLocator(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected *vin.Geolocation
	}{
		{name: "ok", status: http.StatusOK, body: `{"lat":43.23,"lng":76.88}`, expected: &vin.Geolocation{Lat: 43.23, Lng: 76.88}},
		{name: "zero is valid", status: http.StatusOK, body: `{"lat":0,"lng":0}`, expected: &vin.Geolocation{}},
		{name: "no fix", status: http.StatusOK, body: `{"lat":43.23}`},
		{name: "out of range", status: http.StatusOK, body: `{"lat":91,"lng":0}`},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`},
		{name: "garbage", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			pos, err := NewHTTPLocator(server.Client(), server.URL).CurrentPosition(context.Background())
			if tt.expected == nil {
				assert.ErrorIs(t, err, ErrUnavailable)
				assert.Nil(t, pos)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pos)
		})
	}
}

func TestWithTimeout(t *testing.T) {
	start := time.Now()
	_, err := WithTimeout(blockingLocator{}, 20*time.Millisecond).CurrentPosition(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), time.Second)

	_, err = WithTimeout(failingLocator{}, time.Second).CurrentPosition(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	pos, err := WithTimeout(Static{Position: vin.Geolocation{Lat: 1, Lng: 2}}, time.Second).CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Lat)
}
