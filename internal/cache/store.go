// Package cache is the delivery cache: a token-keyed store of packaged
// archives with a bounded lifetime. Entries live entirely on disk (archive
// plus a metadata sidecar), so any process pointed at the same directory
// serves the same tokens; the queue worker registers archives and the API
// server resolves them. Entries are swept opportunistically on every put and
// on every pull lookup rather than on a timer; the worker binary additionally
// sweeps on a ticker so queue-only deployments do not accumulate stale
// archives while idle.
package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one cached archive.
type Entry struct {
	Token       string
	Path        string
	DisplayName string
	CreatedAt   time.Time
}

// entryMeta is the on-disk sidecar for one archive.
type entryMeta struct {
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store maps unguessable tokens to archives on disk. Safe for concurrent use
// within a process, and safe to share a directory across processes; sidecars
// are written atomically so a reader never sees a half-written entry.
type Store struct {
	dir string
	ttl time.Duration

	mu sync.Mutex

	now func() time.Time
}

// NewStore creates the backing directory if needed. Entries already present
// in the directory stay valid until they age out, so a restart does not
// invalidate outstanding pull links.
func NewStore(dir string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		dir: dir,
		ttl: ttl,
		now: time.Now,
	}, nil
}

// TTL returns the configured entry lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put sweeps expired entries, then copies the archive into the cache under a
// fresh token and returns that token. Tokens are never reused. The archive is
// written before its sidecar; an entry is visible only once both exist.
func (s *Store) Put(srcPath, displayName string) (string, error) {
	s.Sweep()

	token := uuid.New().String()
	dst := s.archivePath(token)
	if err := copyFile(srcPath, dst); err != nil {
		return "", fmt.Errorf("store archive: %w", err)
	}

	meta := entryMeta{
		DisplayName: displayName,
		CreatedAt:   s.now(),
	}
	if err := s.writeMeta(token, meta); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("store archive metadata: %w", err)
	}

	return token, nil
}

// Get sweeps, then returns the entry for token. Unknown tokens, expired
// tokens and tokens whose backing archive has vanished all report not found;
// a vanished archive additionally drops the leftover sidecar.
func (s *Store) Get(token string) (Entry, bool) {
	s.Sweep()

	// Tokens are uuids; anything else never names an entry. This also keeps
	// path traversal out of the filename join below.
	if _, err := uuid.Parse(token); err != nil {
		return Entry{}, false
	}

	meta, err := s.readMeta(token)
	if err != nil {
		return Entry{}, false
	}
	if meta.CreatedAt.Before(s.now().Add(-s.ttl)) {
		s.remove(token)
		return Entry{}, false
	}

	path := s.archivePath(token)
	if _, err := os.Stat(path); err != nil {
		s.remove(token)
		return Entry{}, false
	}

	return Entry{
		Token:       token,
		Path:        path,
		DisplayName: meta.DisplayName,
		CreatedAt:   meta.CreatedAt,
	}, true
}

// Sweep removes every entry older than the TTL, plus orphaned archives whose
// sidecar never landed. Removal is best-effort.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, de := range dirEntries {
		name := de.Name()
		switch filepath.Ext(name) {
		case ".json":
			token := name[:len(name)-len(".json")]
			meta, err := s.readMeta(token)
			if err != nil || meta.CreatedAt.Before(cutoff) {
				s.remove(token)
			}
		case ".zip":
			// Archive without a sidecar: a crash between the two writes.
			token := name[:len(name)-len(".zip")]
			if _, err := os.Stat(s.metaPath(token)); err == nil {
				continue
			}
			if info, err := de.Info(); err == nil && info.ModTime().Before(cutoff) {
				_ = os.Remove(filepath.Join(s.dir, name))
			}
		}
	}
}

// Len reports the number of registered entries on disk.
func (s *Store) Len() int {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, de := range dirEntries {
		if filepath.Ext(de.Name()) == ".json" {
			n++
		}
	}
	return n
}

func (s *Store) archivePath(token string) string {
	return filepath.Join(s.dir, token+".zip")
}

func (s *Store) metaPath(token string) string {
	return filepath.Join(s.dir, token+".json")
}

func (s *Store) readMeta(token string) (entryMeta, error) {
	var meta entryMeta
	data, err := os.ReadFile(s.metaPath(token))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// writeMeta lands the sidecar atomically so concurrent readers in other
// processes never observe partial JSON.
func (s *Store) writeMeta(token string, meta entryMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "meta-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.metaPath(token))
}

func (s *Store) remove(token string) {
	_ = os.Remove(s.archivePath(token))
	_ = os.Remove(s.metaPath(token))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
