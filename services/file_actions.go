package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidFilename = errors.New("invalid document filename")
	ErrDocumentExists  = errors.New("document already exists")
)

// DocumentInfo describes one PDF in the library.
type DocumentInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// DocumentLibrary stores PDFs in the documents directory.
type DocumentLibrary struct {
	Dir string // absolute path of the documents directory
}

func NewDocumentLibrary(dir string) (*DocumentLibrary, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("could not determine absolute path for %s: %w", dir, err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("could not create documents directory: %w", err)
	}
	return &DocumentLibrary{Dir: absPath}, nil
}

// sanitizeFilename ensures the filename is a PDF inside the documents directory.
func (l *DocumentLibrary) sanitizeFilename(filename string) (string, error) {
	base := filepath.Base(filepath.Clean(filename))
	if base == "." || base == ".." || base == string(filepath.Separator) || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	if strings.ToLower(filepath.Ext(base)) != ".pdf" {
		return "", fmt.Errorf("%w: %q must end with .pdf", ErrInvalidFilename, filename)
	}
	// Prevents path traversal (e.g. "../../etc/passwd.pdf").
	cleanPath := filepath.Join(l.Dir, base)
	if filepath.Dir(cleanPath) != l.Dir {
		return "", fmt.Errorf("%w: %q escapes the documents directory", ErrInvalidFilename, filename)
	}
	return cleanPath, nil
}

// Save copies r into the library under filename and returns the stored
// path. The content is written to a hidden temp file first, so watchers
// never see a partial PDF.
func (l *DocumentLibrary) Save(filename string, r io.Reader) (string, error) {
	path, err := l.sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDocumentExists, filepath.Base(path))
	}

	tmp := filepath.Join(l.Dir, ".upload-"+uuid.New().String()+".part")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	// Link instead of rename so a concurrent upload of the same name fails.
	if err := os.Link(tmp, path); err != nil {
		os.Remove(tmp)
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrDocumentExists, filepath.Base(path))
		}
		return "", fmt.Errorf("store %s: %w", filepath.Base(path), err)
	}
	os.Remove(tmp)
	return path, nil
}

// List returns the PDFs in the library sorted by name.
func (l *DocumentLibrary) List() ([]DocumentInfo, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("read documents directory: %w", err)
	}
	docs := []DocumentInfo{}
	for _, e := range entries {
		if e.IsDir() || !isSupportedFile(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		docs = append(docs, DocumentInfo{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Delete removes filename from the library.
func (l *DocumentLibrary) Delete(filename string) error {
	path, err := l.sanitizeFilename(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, filepath.Base(path))
		}
		return fmt.Errorf("delete %s: %w", filepath.Base(path), err)
	}
	return nil
}
