package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxSnapshotBytes = 10 << 20

// SnapshotSource pulls a JPEG from an IP camera snapshot endpoint
// (Hikvision ISAPI: /ISAPI/Streaming/channels/101/picture).
type SnapshotSource struct {
	client   *http.Client
	host     string
	path     string
	username string
	password string
	now      func() time.Time
}

func NewSnapshotSource(client *http.Client, host, path, username, password string) *SnapshotSource {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &SnapshotSource{
		client:   client,
		host:     strings.TrimRight(host, "/"),
		path:     path,
		username: username,
		password: password,
		now:      time.Now,
	}
}

// Open проверяет доступность HTTP интерфейса камеры
func (s *SnapshotSource) Open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.host, nil)
	if err != nil {
		return fmt.Errorf("camera request: %w", err)
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("camera is not reachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("camera is not reachable: status %d", resp.StatusCode)
	}
	return nil
}

func (s *SnapshotSource) Frame(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.host+s.path, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("snapshot request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("snapshot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("snapshot request: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return Frame{}, ErrNoFrame
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return Frame{
		Image:       data,
		ContentType: contentType,
		Name:        "snapshot.jpg",
		At:          s.now(),
	}, nil
}

func (s *SnapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *SnapshotSource) authorize(req *http.Request) {
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
}
