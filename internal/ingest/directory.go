package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

type FileResult struct {
	Path         string
	DocumentID   uuid.UUID
	Status       constants.DocumentStatus
	Deduplicated bool
	HashHex      string
	Err          string
}

type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// IngestPath submits one file from disk for ownerID.
func (s *Service) IngestPath(ctx context.Context, ownerID uuid.UUID, path string) (Submission, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Submission{}, fmt.Errorf("abs path: %w", err)
	}
	ext := constants.NormalizeExt(filepath.Ext(abs))
	mime, ok := constants.AllowedExtensions[ext]
	if !ok {
		return Submission{}, fmt.Errorf("unsupported or missing extension: %q", ext)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return Submission{}, fmt.Errorf("read: %w", err)
	}
	return s.Submit(ctx, Upload{
		OwnerID:      ownerID,
		Filename:     filepath.Base(abs),
		Content:      content,
		DeclaredMIME: mime,
	})
}

// IngestDirectory walks root, filters by includeExts (or the allowed set),
// skips hidden entries if requested, and submits each file. A rejected file
// is reported in its result and does not stop the walk.
func (s *Service) IngestDirectory(ctx context.Context, ownerID uuid.UUID, root string, includeExts []string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root_path is required")
	}

	exts := map[string]struct{}{}
	for _, e := range includeExts {
		if e = constants.NormalizeExt(strings.TrimSpace(e)); AllowedExt(e) {
			exts[e] = struct{}{}
		}
	}
	if len(exts) == 0 {
		for e := range constants.AllowedExtensions {
			exts[e] = struct{}{}
		}
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := exts[constants.NormalizeExt(filepath.Ext(path))]; !ok {
			return nil
		}
		stats.Matched++

		rec, err := s.IngestPath(ctx, ownerID, path)
		if err != nil {
			s.logger.Warn("file not ingested", "path", path, "error", err)
			results = append(results, FileResult{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, FileResult{
			Path:         path,
			DocumentID:   rec.DocumentID,
			Status:       rec.Status,
			Deduplicated: rec.Deduplicated,
			HashHex:      rec.ContentHash,
		})
		stats.Succeeded++
		if rec.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	s.logger.Info("directory ingested", "root", root, "scanned", stats.Scanned, "matched", stats.Matched,
		"succeeded", stats.Succeeded, "deduplicated", stats.Deduplicated, "failed", stats.Failed)
	return results, stats, nil
}
