// Package blob persists uploaded audio under a spool directory and hands
// out TTL-bound signed URLs for it. Handles are opaque strings safe to
// store on file rows and to embed in URLs.
package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tidewater.systems/callintake/internal/bulkimport"
	"tidewater.systems/callintake/pkg/utils/filename"
)

type Store struct {
	root    string
	secret  []byte
	baseURL string
}

// New creates the store rooted at dir. baseURL is the externally reachable
// prefix signed URLs are built on, e.g. "https://host/api/files".
func New(dir string, secret string, baseURL string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{
		root:    dir,
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *Store) path(handle string) string {
	// Two-level fanout keeps directory sizes sane for large imports.
	prefix := "00"
	if len(handle) >= 2 {
		prefix = handle[:2]
	}
	return filepath.Join(s.root, "objects", prefix, handle)
}

// Put stores data and returns its handle. The original file name is folded
// into the handle (sanitized) so spool contents stay operator-readable.
func (s *Store) Put(data []byte, name string) (string, error) {
	handle := uuid.NewString()
	if slug := filename.Sanitize(name, 64); slug != "" {
		handle = handle + "-" + slug
	}

	p := s.path(handle)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return handle, nil
}

// Get returns the stored bytes for a handle.
func (s *Store) Get(handle string) ([]byte, error) {
	if !validHandle(handle) {
		return nil, bulkimport.ErrNotFound
	}
	data, err := os.ReadFile(s.path(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bulkimport.ErrNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Path returns the on-disk location for a handle, for callers that stream
// rather than slurp.
func (s *Store) Path(handle string) (string, error) {
	if !validHandle(handle) {
		return "", bulkimport.ErrNotFound
	}
	p := s.path(handle)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", bulkimport.ErrNotFound
		}
		return "", err
	}
	return p, nil
}

// validHandle rejects anything that could escape the objects directory.
func validHandle(handle string) bool {
	if handle == "" || strings.ContainsAny(handle, "/\\") || strings.Contains(handle, "..") {
		return false
	}
	return true
}

// SignedURL returns a URL that grants access to the handle until the TTL
// expires. The signature binds both the handle and the expiry.
func (s *Store) SignedURL(handle string, ttl time.Duration) string {
	exp := time.Now().Add(ttl).Unix()
	sig := s.sign(handle, exp)
	return fmt.Sprintf("%s/%s?exp=%d&sig=%s", s.baseURL, handle, exp, sig)
}

// Verify checks a signature produced by SignedURL. Expired or forged
// signatures fail closed.
func (s *Store) Verify(handle string, exp int64, sig string) bool {
	if exp < time.Now().Unix() {
		return false
	}
	expected := s.sign(handle, exp)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *Store) sign(handle string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(handle))
	mac.Write([]byte("\n"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
