package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/use-agent/feedharvest/models"
)

// AddIdentity writes (or overwrites) the named mole, creating the directory
// if needed. The content is stored verbatim.
func (p *Provider) AddIdentity(name string, content []byte) error {
	path, err := p.molePath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.molesDir, 0o700); err != nil {
		return fmt.Errorf("moles: create %s: %w", p.molesDir, err)
	}
	if err := writeFileAtomic(p.molesDir, path, content); err != nil {
		return fmt.Errorf("moles: write %s: %w", name, err)
	}
	slog.Info("mole added", "name", name)
	return nil
}

// RemoveIdentity deletes the named mole. A missing mole only logs a warning.
func (p *Provider) RemoveIdentity(name string) error {
	path, err := p.molePath(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("mole does not exist", "name", name)
		return nil
	case err != nil:
		return fmt.Errorf("moles: remove %s: %w", name, err)
	}
	slog.Info("mole deleted", "name", name)
	return nil
}

// ListIdentities returns the names of all stored moles, sorted. These are the
// sentinel users workers can currently run as.
func (p *Provider) ListIdentities() ([]string, error) {
	entries, err := os.ReadDir(p.molesDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("moles: read %s: %w", p.molesDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// LoadState reads the session state of a sentinel user. A mole that does not
// exist yet yields (nil, nil).
func (p *Provider) LoadState(name string) (*models.SessionState, error) {
	path, err := p.molePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("moles: read %s: %w", name, err)
	}

	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("moles: decode %s: %w", name, err)
	}
	return &state, nil
}

// SaveState persists the session state of a sentinel user.
func (p *Provider) SaveState(name string, state *models.SessionState) error {
	if state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("moles: encode %s: %w", name, err)
	}
	return p.AddIdentity(name, data)
}

func (p *Provider) molePath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("invalid mole name %q", name), nil)
	}
	return filepath.Join(p.molesDir, name), nil
}

// writeFileAtomic writes through a temp file so a crash mid-write never
// leaves a truncated session state behind.
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
