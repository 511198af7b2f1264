// Package blob stores audio recordings on disk. Objects are written once and
// read back through download URLs that carry a per-object token.
package blob

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/nrednav/cuid2"
)

var (
	ErrBlobExists   = errors.New("blob already exists")
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidKey   = errors.New("invalid blob key")
	ErrInvalidToken = errors.New("invalid download token")
)

const metaSuffix = ".meta.json"

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag"`
	Token       string    `json:"token"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Store struct {
	root    string
	baseURL string
}

// New stores blobs under root. Download URLs are rooted at baseURL, which
// the HTTP layer serves under /blobs/.
func New(root, baseURL string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, metaSuffix) {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes r under key. Keys are write-once.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dest := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrBlobExists
		}
		return nil, fmt.Errorf("creating blob: %w", err)
	}

	hash := xxhash.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("writing blob: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	obj := &Object{
		Key:         key,
		ContentType: contentType,
		Size:        size,
		ETag:        strconv.FormatUint(hash.Sum64(), 16),
		Token:       cuid2.Generate(),
		CreatedAt:   time.Now().UTC(),
	}
	meta, err := json.Marshal(obj)
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("marshalling blob metadata: %w", err)
	}
	if err := os.WriteFile(dest+metaSuffix, meta, 0o644); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("writing blob metadata: %w", err)
	}

	return obj, nil
}

// Stat returns the metadata for key.
func (s *Store) Stat(key string) (*Object, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	data, err := os.ReadFile(s.path(key) + metaSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("reading blob metadata: %w", err)
	}
	obj := &Object{}
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("decoding blob metadata: %w", err)
	}
	return obj, nil
}

// Open checks the download token and returns the blob contents. The caller
// closes the reader.
func (s *Store) Open(key, token string) (io.ReadCloser, *Object, error) {
	obj, err := s.Stat(key)
	if err != nil {
		return nil, nil, err
	}
	if subtle.ConstantTimeCompare([]byte(obj.Token), []byte(token)) != 1 {
		return nil, nil, ErrInvalidToken
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, obj, nil
}

// URL resolves the download URL for an object.
func (s *Store) URL(obj *Object) string {
	segments := strings.Split(obj.Key, "/")
	for i := range segments {
		segments[i] = url.PathEscape(segments[i])
	}
	return s.baseURL + "/blobs/" + strings.Join(segments, "/") + "?token=" + url.QueryEscape(obj.Token)
}
