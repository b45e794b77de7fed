// Package workspace owns the on-disk layout of a job: final outputs under
// the base path and per-job intermediates under <base>/.tmp/<jobID>.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

const (
	tempDirName = ".tmp"

	// DefaultCleanupDelay is the grace period before a job root is removed
	DefaultCleanupDelay = 2 * time.Second
)

// Manager creates, resolves and reclaims job directories
type Manager struct {
	base   string
	delay  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{} // prepared roots awaiting Reclaim
	claims  map[string]claim    // destination path -> holder
}

type claim struct {
	jobID  string
	itemID string
}

// New creates a workspace manager rooted at base
func New(base string, cleanupDelay time.Duration, logger zerolog.Logger) *Manager {
	if cleanupDelay < 0 {
		cleanupDelay = 0
	}
	return &Manager{
		base:    base,
		delay:   cleanupDelay,
		logger:  logger.With().Str("component", "workspace").Logger(),
		pending: make(map[string]struct{}),
		claims:  make(map[string]claim),
	}
}

// Base returns the final output root
func (m *Manager) Base() string {
	return m.base
}

// EnsureDirectory creates path and any missing parents. Existing directories are fine.
func (m *Manager) EnsureDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// TemporaryRoot returns <base>/.tmp/<jobID>
func (m *Manager) TemporaryRoot(jobID string) string {
	return filepath.Join(m.base, tempDirName, jobID)
}

// TemporaryDir returns the intermediate directory mirroring Destination's layout
func (m *Manager) TemporaryDir(jobID, subfolder string) string {
	return filepath.Join(m.TemporaryRoot(jobID), subfolder)
}

// DestinationDir returns <base>/<subfolder>
func (m *Manager) DestinationDir(subfolder string) string {
	return filepath.Join(m.base, subfolder)
}

// Destination returns the final path for filename inside subfolder
func (m *Manager) Destination(subfolder, filename string) string {
	return filepath.Join(m.base, subfolder, filename)
}

// Prepare creates the job's temporary root and arms one Reclaim for it.
// A job that runs again under the same ID is armed again.
func (m *Manager) Prepare(jobID string) (string, error) {
	root := m.TemporaryRoot(jobID)
	if err := m.EnsureDirectory(root); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.pending[jobID] = struct{}{}
	m.mu.Unlock()
	return root, nil
}

// ClaimDestination returns the final path for an item's file, named stem+ext
// unless another item already holds that name, in which case the item ID
// is appended to the stem. Claims are released when the job is reclaimed.
func (m *Manager) ClaimDestination(jobID, itemID, subfolder, stem, ext string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := SanitizeName(itemID)
	for i := 0; ; i++ {
		name := stem + ext
		switch {
		case i == 1:
			name = fmt.Sprintf("%s [%s]%s", stem, id, ext)
		case i > 1:
			name = fmt.Sprintf("%s [%s] %d%s", stem, id, i, ext)
		}
		path := m.Destination(subfolder, name)
		if held, ok := m.claims[path]; ok && held.itemID != itemID {
			continue
		}
		m.claims[path] = claim{jobID: jobID, itemID: itemID}
		return path
	}
}

// Reclaim removes the job's temporary root after the grace delay and
// releases its destination claims. Only the first call after Prepare does
// anything; it reports whether it ran. Removal failures are logged, never
// returned.
func (m *Manager) Reclaim(ctx context.Context, jobID string) bool {
	m.mu.Lock()
	if _, ok := m.pending[jobID]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, jobID)
	for path, held := range m.claims {
		if held.jobID == jobID {
			delete(m.claims, path)
		}
	}
	m.mu.Unlock()

	if m.delay > 0 {
		t := time.NewTimer(m.delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	root := m.TemporaryRoot(jobID)
	if err := os.RemoveAll(root); err != nil {
		m.logger.Warn().Err(err).Str("path", root).Msg("failed to reclaim job workspace")
		return true
	}
	m.logger.Debug().Str("job_id", jobID).Str("path", root).Msg("job workspace reclaimed")
	return true
}

// MoveFile renames src to dst, creating dst's directory. Falls back to
// copy and remove when the rename crosses filesystems.
func (m *Manager) MoveFile(src, dst string) error {
	if err := m.EnsureDirectory(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return fmt.Errorf("move %s: %w", src, err)
	}

	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return strings.Contains(linkErr.Err.Error(), "cross-device")
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// SanitizeName makes a provider title safe to use as a file or folder name
func SanitizeName(name string) string {
	name = norm.NFC.String(name)
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '|', '/', '\\', ':', '*', '?', '"', '<', '>':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}
