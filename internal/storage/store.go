package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"chatline/internal/message"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidPath = errors.New("invalid object path")
	ErrTooLarge    = errors.New("object too large")
	ErrNotImage    = errors.New("object is not an image")
)

// roots are the only top-level folders clients may write to.
var roots = []string{
	strings.TrimSuffix(message.ImagesPrefix, "/"),
	strings.TrimSuffix(message.AvatarPrefix, "/"),
	path.Dir(message.BackgroundPath),
}

// Object describes a stored blob.
type Object struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	DownloadURL string `json:"download_url"`
}

// Store keeps blobs on the local filesystem under basePath and hands out
// public URLs under baseURL/files/.
type Store struct {
	basePath string
	baseURL  string
	maxBytes int64
}

func NewStore(basePath, baseURL string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// CleanPath normalises an object path and rejects anything outside the
// known roots.
func CleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean != p || strings.HasPrefix(clean, "..") {
		return "", ErrInvalidPath
	}
	root, rest, ok := strings.Cut(clean, "/")
	if !ok || rest == "" {
		return "", ErrInvalidPath
	}
	for _, r := range roots {
		if root == r {
			return clean, nil
		}
	}
	return "", ErrInvalidPath
}

func (s *Store) full(p string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(p))
}

func (s *Store) DownloadURL(p string) string {
	return s.baseURL + "/files/" + p
}

// Put stores r at p, replacing any previous object. The write goes through a
// temp file so readers never see a partial blob.
func (s *Store) Put(p string, r io.Reader) (*Object, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, ErrNotImage
	}

	dst := s.full(p)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	body := io.MultiReader(bytes.NewReader(head), r)
	size, err := io.Copy(tmp, io.LimitReader(body, s.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write object: %w", err)
	}
	if size > s.maxBytes {
		return nil, ErrTooLarge
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("commit object: %w", err)
	}

	return &Object{
		Path:        p,
		Size:        size,
		ContentType: contentType,
		DownloadURL: s.DownloadURL(p),
	}, nil
}

// Open returns the blob at p for reading.
func (s *Store) Open(p string) (*os.File, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.full(p))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *Store) Delete(p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	err = os.Remove(s.full(p))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// List returns the object names directly under prefix, sorted.
func (s *Store) List(prefix string) ([]string, error) {
	dir := strings.Trim(prefix, "/")
	if _, err := CleanPath(dir + "/x"); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.full(dir))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
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
