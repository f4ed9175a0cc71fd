package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Ingester stores one document in the index.
type Ingester interface {
	IngestFile(ctx context.Context, path, source string) (*IngestReport, error)
}

// SourceRemover drops every record of one document.
type SourceRemover interface {
	DeleteSource(ctx context.Context, source string) error
}

var (
	_ Ingester      = (*IngestionService)(nil)
	_ Ingester      = (*FileIndexingService)(nil)
	_ SourceRemover = (*VectorStore)(nil)
	_ SourceRemover = (*FileIndexingService)(nil)
)

// ManifestEntry is the indexed state of one file.
type ManifestEntry struct {
	Hash      string    `yaml:"hash"`
	Pages     int       `yaml:"pages,omitempty"`
	Images    int       `yaml:"images,omitempty"`
	Chunks    int       `yaml:"chunks,omitempty"`
	Records   int       `yaml:"records"`
	IndexedAt time.Time `yaml:"indexed_at"`
}

func (e ManifestEntry) report(source string) *IngestReport {
	return &IngestReport{Document: source, Pages: e.Pages, Images: e.Images, Chunks: e.Chunks, Records: e.Records}
}

// Manifest maps document sources to their indexed state.
type Manifest struct {
	Files map[string]ManifestEntry `yaml:"files"`
}

// FileIndexingService keeps the index in sync with a directory of PDFs.
type FileIndexingService struct {
	ingester     Ingester
	remover      SourceRemover
	manifestPath string
	logger       zerolog.Logger

	// syncMu serializes ingests and removals so an upload and the watcher
	// event it triggers never index the same file twice.
	syncMu sync.Mutex

	mu       sync.Mutex
	manifest Manifest
}

// NewFileIndexingService loads the manifest at manifestPath, if any.
func NewFileIndexingService(ingester Ingester, remover SourceRemover, manifestPath string) (*FileIndexingService, error) {
	s := &FileIndexingService{
		ingester:     ingester,
		remover:      remover,
		manifestPath: manifestPath,
		logger:       log.With().Str("component", "indexer").Logger(),
		manifest:     Manifest{Files: make(map[string]ManifestEntry)},
	}

	data, err := os.ReadFile(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", manifestPath, err)
	}
	if s.manifest.Files == nil {
		s.manifest.Files = make(map[string]ManifestEntry)
	}
	return s, nil
}

// Indexed returns a copy of the manifest entries.
func (s *FileIndexingService) Indexed() map[string]ManifestEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ManifestEntry, len(s.manifest.Files))
	for k, v := range s.manifest.Files {
		out[k] = v
	}
	return out
}

// saveManifest must be called with mu held.
func (s *FileIndexingService) saveManifest() error {
	data, err := yaml.Marshal(&s.manifest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.manifestPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.manifestPath, data, 0o644)
}

// ScanAndIndexDirectory ingests new and changed PDFs under dirPath and drops
// the records of PDFs that are gone.
func (s *FileIndexingService) ScanAndIndexDirectory(ctx context.Context, dirPath string) error {
	s.logger.Info().Str("dir", dirPath).Msg("starting directory scan")

	localFiles := make(map[string]bool)
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dirPath && isHidden(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !isSupportedFile(path) || isHidden(d.Name()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		source := sourceName(dirPath, path)
		localFiles[source] = true
		if _, err := s.syncFile(ctx, source, path); err != nil {
			s.logger.Error().Err(err).Str("path", path).Msg("failed to index file")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dirPath, err)
	}

	for source := range s.Indexed() {
		if !localFiles[source] {
			s.logger.Info().Str("source", source).Msg("file deleted, removing from index")
			if err := s.DeleteSource(ctx, source); err != nil {
				s.logger.Error().Err(err).Str("source", source).Msg("failed to remove records")
			}
		}
	}
	s.logger.Info().Int("files", len(localFiles)).Msg("directory scan finished")
	return nil
}

// IngestFile indexes the PDF at path under source and records it in the
// manifest. Content already indexed under source is not ingested again.
func (s *FileIndexingService) IngestFile(ctx context.Context, path, source string) (*IngestReport, error) {
	return s.syncFile(ctx, source, path)
}

// syncFile re-indexes path when its content differs from the manifest.
func (s *FileIndexingService) syncFile(ctx context.Context, source, path string) (*IngestReport, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	hash, err := calculateFileHash(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, source)
	}
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}

	s.mu.Lock()
	entry, known := s.manifest.Files[source]
	s.mu.Unlock()
	if known && entry.Hash == hash {
		return entry.report(source), nil
	}

	if known {
		s.logger.Info().Str("source", source).Msg("file changed, re-indexing")
		if err := s.remover.DeleteSource(ctx, source); err != nil {
			return nil, fmt.Errorf("delete old version: %w", err)
		}
	} else {
		s.logger.Info().Str("source", source).Msg("indexing new file")
	}

	report, err := s.ingester.IngestFile(ctx, path, source)
	if err != nil {
		// Forget the file so the next scan or event retries it.
		s.mu.Lock()
		delete(s.manifest.Files, source)
		saveErr := s.saveManifest()
		s.mu.Unlock()
		return report, errors.Join(err, saveErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest.Files[source] = ManifestEntry{
		Hash:      hash,
		Pages:     report.Pages,
		Images:    report.Images,
		Chunks:    report.Chunks,
		Records:   report.Records,
		IndexedAt: time.Now().UTC(),
	}
	return report, s.saveManifest()
}

// DeleteSource drops the records of source and forgets it in the manifest.
func (s *FileIndexingService) DeleteSource(ctx context.Context, source string) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if err := s.remover.DeleteSource(ctx, source); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.manifest.Files, source)
	return s.saveManifest()
}

// dirWatcher is the part of fsnotify.Watcher used to follow new directories.
type dirWatcher interface {
	Add(name string) error
}

// watchTree watches root and every non-hidden directory below it, since
// fsnotify watches are not recursive.
func watchTree(w dirWatcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}

// WatchDirectory re-indexes PDFs in dirPath as they change until ctx is
// cancelled.
func (s *FileIndexingService) WatchDirectory(ctx context.Context, dirPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, dirPath); err != nil {
		return fmt.Errorf("watch %s: %w", dirPath, err)
	}
	logger := log.With().Str("component", "watcher").Logger()
	logger.Info().Str("dir", dirPath).Msg("watching directory")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, watcher, dirPath, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("watcher error")
		case <-ctx.Done():
			logger.Info().Msg("context cancelled, stopping watcher")
			return nil
		}
	}
}

func (s *FileIndexingService) handleEvent(ctx context.Context, w dirWatcher, dirPath string, event fsnotify.Event) {
	if isHidden(filepath.Base(event.Name)) {
		return
	}
	logger := log.With().Str("component", "watcher").Str("path", event.Name).Logger()
	source := sourceName(dirPath, event.Name)

	if !isSupportedFile(event.Name) {
		s.handleDirEvent(ctx, w, dirPath, event, source, logger)
		return
	}

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		// Editors and uploads may emit several events for one change; the
		// hash check makes the repeats no-ops.
		_, err := s.syncFile(ctx, source, event.Name)
		switch {
		case errors.Is(err, ErrDocumentNotFound):
			logger.Debug().Msg("file vanished before indexing")
		case err != nil:
			logger.Error().Err(err).Msg("failed to index file")
		}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if _, known := s.Indexed()[source]; !known {
			return
		}
		logger.Info().Msg("file removed, removing from index")
		if err := s.DeleteSource(ctx, source); err != nil {
			logger.Error().Err(err).Msg("failed to remove records")
		}
	}
}

// handleDirEvent follows directories created under dirPath and drops the
// records of directories that were removed or moved away.
func (s *FileIndexingService) handleDirEvent(ctx context.Context, w dirWatcher, dirPath string, event fsnotify.Event, prefix string, logger zerolog.Logger) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil || !info.IsDir() {
			return
		}
		logger.Info().Msg("watching new directory")
		if err := watchTree(w, event.Name); err != nil {
			logger.Error().Err(err).Msg("failed to watch directory")
		}
		// Files may have landed before the watch was added.
		err = filepath.WalkDir(event.Name, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != event.Name && isHidden(d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if !isSupportedFile(path) || isHidden(d.Name()) {
				return nil
			}
			if _, err := s.syncFile(ctx, sourceName(dirPath, path), path); err != nil {
				logger.Error().Err(err).Str("file", path).Msg("failed to index file")
			}
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to scan new directory")
		}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		for source := range s.Indexed() {
			if !strings.HasPrefix(source, prefix+"/") {
				continue
			}
			logger.Info().Str("source", source).Msg("directory removed, removing from index")
			if err := s.DeleteSource(ctx, source); err != nil {
				logger.Error().Err(err).Str("source", source).Msg("failed to remove records")
			}
		}
	}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// sourceName is the tag of a document: its path relative to the watched
// directory, with forward slashes.
func sourceName(dirPath, path string) string {
	rel, err := filepath.Rel(dirPath, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

func isSupportedFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".pdf"
}

func calculateFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
