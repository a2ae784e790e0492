// Package store persists per-device reconciliation counters as JSON files.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/reconcile"
)

// RecordVersion is the schema version written to every state file.
const RecordVersion = 1

// ErrVersionMismatch is returned when a state file carries an unknown version.
var ErrVersionMismatch = errors.New("state file version mismatch")

type record struct {
	Version int             `json:"version"`
	Data    reconcile.State `json:"data"`
}

// FilePersister stores one JSON file per device in Dir.
type FilePersister struct {
	Dir    string
	logger *logrus.Logger
}

// NewFilePersister creates a persister rooted at dir.
func NewFilePersister(dir string, logger *logrus.Logger) *FilePersister {
	if logger == nil {
		logger = logrus.New()
	}
	return &FilePersister{Dir: dir, logger: logger}
}

// Path returns the state file of a device.
func (fp *FilePersister) Path(address string) string {
	return filepath.Join(fp.Dir, "oclean_ble."+protocol.MACSlug(address)+".json")
}

// Load reads the stored state. A missing file yields a zero State and no error.
func (fp *FilePersister) Load(address string) (state reconcile.State, err error) {
	path := fp.Path(address)

	unlock, err := lockFile(path+".lock", false)
	if err != nil {
		return
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return reconcile.State{}, nil
	}
	if err != nil {
		return
	}

	var rec record
	if err = json.Unmarshal(data, &rec); err != nil {
		err = fmt.Errorf("failed to decode %s: %w", path, err)
		return
	}
	if rec.Version != RecordVersion {
		err = fmt.Errorf("%w: %s has version %d", ErrVersionMismatch, path, rec.Version)
		return
	}
	state = rec.Data
	return
}

// Save writes the state through a temporary file and a rename, so readers
// never observe a partial record.
func (fp *FilePersister) Save(address string, state reconcile.State) (err error) {
	if err = os.MkdirAll(fp.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	path := fp.Path(address)
	unlock, err := lockFile(path+".lock", true)
	if err != nil {
		return
	}
	defer unlock()

	data, err := json.MarshalIndent(record{Version: RecordVersion, Data: state}, "", "  ")
	if err != nil {
		return
	}

	tmp, err := os.CreateTemp(fp.Dir, ".oclean_ble.*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	fp.logger.WithFields(logrus.Fields{
		"path":  path,
		"state": fmt.Sprintf("%+v", state),
	}).Debug("Device state saved")
	return nil
}

// Delete removes the stored state of a device.
func (fp *FilePersister) Delete(address string) error {
	err := os.Remove(fp.Path(address))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
