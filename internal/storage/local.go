package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LocalStore keeps artifacts in a directory served as static files.
// Staged files live next to their final name so Commit is a same-directory
// rename.
type LocalStore struct {
	root       string
	publicBase string
	logger     *zap.Logger
}

func NewLocalStore(root, publicBase string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	return &LocalStore{
		root:       abs,
		publicBase: strings.TrimRight(publicBase, "/"),
		logger:     logger.Named("storage"),
	}, nil
}

func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Stage(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, stagedName(name)), nil
}

func (s *LocalStore) Commit(ctx context.Context, staged, name string) (PublishedFile, error) {
	if err := checkName(name); err != nil {
		return PublishedFile{}, err
	}
	info, err := os.Stat(staged)
	if err != nil {
		return PublishedFile{}, fmt.Errorf("failed to stat staged artifact: %w", err)
	}
	if info.Size() == 0 {
		return PublishedFile{}, fmt.Errorf("staged artifact %s is empty", staged)
	}

	final := filepath.Join(s.root, name)
	if err := os.Rename(staged, final); err != nil {
		return PublishedFile{}, fmt.Errorf("failed to publish artifact: %w", err)
	}

	s.logger.Debug("Artifact published", zap.String("name", name), zap.Int64("bytes", info.Size()))
	return PublishedFile{Name: name, URL: s.PublicURL(name), Size: info.Size()}, nil
}

func (s *LocalStore) Discard(staged string) {
	if staged == "" {
		return
	}
	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to discard staged artifact", zap.String("path", staged), zap.Error(err))
	}
}

// Delete removes a published file. A file that is already gone is not an error.
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (s *LocalStore) PublicURL(name string) string {
	return s.publicBase + "/" + url.PathEscape(name)
}

// SweepPartials removes staged files left behind by a crashed process.
// Only files untouched for olderThan are removed, so renders still being
// written by another process sharing the root survive.
func (s *LocalStore) SweepPartials(olderThan time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, ".*"+partialSuffix))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil || st.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Removed leftover staged artifacts", zap.Int("count", removed))
	}
	return removed, nil
}
