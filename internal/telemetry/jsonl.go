package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLinesSink appends one statistic point per line to a file.
type JSONLinesSink struct {
	mu   sync.Mutex
	path string
}

func NewJSONLinesSink(path string) *JSONLinesSink {
	return &JSONLinesSink{path: path}
}

func (s *JSONLinesSink) Publish(_ context.Context, r Report) error {
	points := Points(r.Device.Address, r.NewSessions)
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create statistics dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open statistics file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, p := range points {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to append statistic: %w", err)
		}
	}
	return nil
}
