// Package resource provides local implementations of the downstream
// abstractions the kernel mediates: a sandboxed filesystem and an
// in-memory fact store. Production deployments may swap either for
// their own implementation of the runner interfaces.
package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hearthward/warden/pkg/runner"
)

// SandboxFS maps mediated paths onto a root directory on the local
// filesystem. Paths are cleaned and confined; escaping the root is an
// error even though policy should have denied traversal long before.
type SandboxFS struct {
	root string
}

// NewSandboxFS creates a filesystem rooted at dir.
func NewSandboxFS(dir string) *SandboxFS {
	return &SandboxFS{root: dir}
}

func (s *SandboxFS) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes sandbox root", path)
	}
	return full, nil
}

// Read returns the file's contents, or runner.ErrNotFound when absent.
func (s *SandboxFS) Read(ctx context.Context, path string) ([]byte, error) {
	_ = ctx
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", runner.ErrNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

// Write stores data at path, creating parent directories as needed.
func (s *SandboxFS) Write(ctx context.Context, path string, data []byte) error {
	_ = ctx
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
