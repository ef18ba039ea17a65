package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/datastation/internal/config"
)

// ResultsPrefix maps a project id to the path prefix of its result files:
// <root>/.<project name>.results. Appending a panel id gives the file.
func ResultsPrefix(root, projectID string) string {
	base := filepath.Base(strings.TrimSpace(projectID))
	base = strings.TrimSuffix(base, "."+config.ProjectExtension)
	return filepath.Join(root, "."+base+".results")
}

// WriteResult stores value as the result of panelID. Results skip the
// write buffer because a program started right after may read them.
func WriteResult(prefix, panelID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode result %s: %w", panelID, err)
	}
	if err := writeFileAtomic(prefix+panelID, data); err != nil {
		return fmt.Errorf("store: write result %s: %w", panelID, err)
	}
	return nil
}

// ReadResult loads the stored result of panelID. A missing file yields an
// error matching fs.ErrNotExist.
func ReadResult(prefix, panelID string) (any, error) {
	data, err := os.ReadFile(prefix + panelID)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("store: decode result %s: %w", panelID, err)
	}
	return value, nil
}

// RemoveResult deletes the result file of panelID. A missing file is not an
// error.
func RemoveResult(prefix, panelID string) error {
	if err := os.Remove(prefix + panelID); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: remove result %s: %w", panelID, err)
	}
	return nil
}

// PruneResults removes result files under prefix that belong to panels not
// in live, and any older than maxAge when maxAge is positive. Only names of
// the form prefix+<uuid> are considered. It returns the number of files
// removed.
func PruneResults(prefix string, live []string, maxAge time.Duration, now time.Time) (int, error) {
	dir := filepath.Dir(prefix)
	stem := filepath.Base(prefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: list results: %w", err)
	}
	keep := make(map[string]struct{}, len(live))
	for _, id := range live {
		keep[id] = struct{}{}
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, stem) {
			continue
		}
		// Another project's stem can extend this one (".a.results" vs
		// ".a.results.results"), so only a bare panel id qualifies.
		panelID := strings.TrimPrefix(name, stem)
		if _, err := uuid.Parse(panelID); err != nil || len(panelID) != 36 {
			continue
		}
		stale := false
		if _, ok := keep[panelID]; !ok {
			stale = true
		} else if maxAge > 0 {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			stale = now.Sub(info.ModTime()) > maxAge
		}
		if !stale {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
