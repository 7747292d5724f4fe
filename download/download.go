// Package download manages the temporary working directories a batch downloads into, and moves finished artifacts
// out of them.
package download

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultOutputDir is created under the working directory when no output directory is configured.
const DefaultOutputDir = "downloads"

type managerConfig struct {
	baseTempDir string
	pattern     string
}

type ManagerOption func(*managerConfig)

// WithTempDir sets the directory working directories are created in (default os.TempDir()).
func WithTempDir(dir string) ManagerOption {
	return func(c *managerConfig) {
		c.baseTempDir = dir
	}
}

// WithPattern sets the os.MkdirTemp pattern for working directory names.
func WithPattern(pattern string) ManagerOption {
	return func(c *managerConfig) {
		c.pattern = pattern
	}
}

// Manager creates and tears down working directories.
type Manager struct {
	config managerConfig
	log    *zap.SugaredLogger
}

func NewManager(opts ...ManagerOption) *Manager {
	config := managerConfig{
		baseTempDir: "",
		pattern:     "video-fetcher-*",
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Manager{
		config: config,
		log:    zap.S().Named("download"),
	}
}

// A WorkDir is a temporary directory owned by one invocation, destroyed by Manager.Release.
type WorkDir struct {
	path     string
	released bool
	mu       sync.Mutex
}

// Acquire creates a new, empty WorkDir.
func (m *Manager) Acquire() (*WorkDir, error) {
	baseTempDir := m.config.baseTempDir
	if baseTempDir == "" {
		baseTempDir = os.TempDir()
	} else if err := os.MkdirAll(baseTempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	path, err := os.MkdirTemp(baseTempDir, m.config.pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	m.log.Debugf("Acquired work directory %v", path)
	return &WorkDir{path: path}, nil
}

// Release removes the WorkDir and everything in it. It never fails: problems are logged, and releasing twice is a
// no-op.
func (m *Manager) Release(d *WorkDir) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	if err := os.RemoveAll(d.path); err != nil {
		m.log.Warnf("Failed to clean up work directory %v: %v", d.path, err)
	} else {
		m.log.Debugf("Released work directory %v", d.path)
	}
}

// With runs f with a fresh WorkDir, which is released however f returns.
func (m *Manager) With(f func(dir *WorkDir) error) error {
	if dir, err := m.Acquire(); err != nil {
		return err
	} else {
		defer m.Release(dir)
		return f(dir)
	}
}

func (d *WorkDir) Path() string {
	return d.path
}

// Sub creates (if necessary) and returns a named child WorkDir, which is released along with its parent.
func (d *WorkDir) Sub(name string) (*WorkDir, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid work directory name %q", name)
	}
	path := filepath.Join(d.path, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return &WorkDir{path: path}, nil
}

func (d *WorkDir) CreateTemp(pattern string) (*os.File, error) {
	return os.CreateTemp(d.path, pattern)
}

// OutputDir returns dir, or DefaultOutputDir under the current directory if dir is empty, creating it if necessary.
func OutputDir(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cwd, DefaultOutputDir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return dir, nil
}

// Relocate moves src into dstDir, keeping its name unless that would overwrite an existing file, in which case a
// " (N)" suffix is added. The destination is claimed atomically, with a hard link or else an exclusive create and
// copy, so concurrent relocations never overwrite each other. Returns the new path.
func Relocate(src string, dstDir string) (string, error) {
	name := filepath.Base(src)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	claim := os.Link
	copying := false
	for n := 1; ; {
		dst := filepath.Join(dstDir, name)
		if n > 1 {
			dst = filepath.Join(dstDir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		}
		err := claim(src, dst)
		switch {
		case err == nil:
			_ = os.Remove(src)
			return dst, nil
		case errors.Is(err, os.ErrExist):
			n++
		case !copying:
			// Hard links can't cross filesystems, and some filesystems don't have them
			claim, copying = copyFile, true
		default:
			return "", fmt.Errorf("failed to relocate %v: %w", src, err)
		}
	}
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
