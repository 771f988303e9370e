package nvs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/lamp-panel/internal/config"
)

// FileStore persists records as a YAML document keyed by namespace:
//
//	storage:
//	  led_green: 1
//	  led_red: 0
//
// Commit rewrites the whole file through a temporary file and rename, so a
// power cut leaves either the old or the new document on disk.
type FileStore struct {
	path      string
	namespace string

	mu sync.Mutex
	// doc holds every namespace so that writes preserve foreign records.
	doc     map[string]map[string]yaml.Node
	damaged bool
	pending map[string]int32
}

// NewFileStore opens the record file at path. A missing file is an empty
// store. An unparsable file opens successfully but every read in it reports
// ErrCorrupt until the next Commit replaces it.
func NewFileStore(path, namespace string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("nvs: file store path must be provided")
	}

	s := &FileStore{
		path:      filepath.Clean(path),
		namespace: namespace,
		doc:       make(map[string]map[string]yaml.Node),
		pending:   make(map[string]int32),
	}

	contents, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read record file: %w", err)
	}

	if err := yaml.Unmarshal(contents, &s.doc); err != nil {
		s.damaged = true
		s.doc = make(map[string]map[string]yaml.Node)
	}

	if s.doc == nil {
		s.doc = make(map[string]map[string]yaml.Node)
	}

	return s, nil
}

// GetInt implements Store.
func (s *FileStore) GetInt(ctx context.Context, key string) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.pending[key]; ok {
		return v, nil
	}

	if s.damaged {
		return 0, fmt.Errorf("%w: %s: unparsable record file", ErrCorrupt, key)
	}

	node, ok := s.doc[s.namespace][key]
	if !ok {
		return 0, ErrNotFound
	}

	var v int32
	if err := node.Decode(&v); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}

	return v, nil
}

// SetInt implements Store.
func (s *FileStore) SetInt(ctx context.Context, key string, value int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[key] = value

	return nil
}

// Commit implements Store.
func (s *FileStore) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	next := make(map[string]map[string]yaml.Node, len(s.doc)+1)
	for ns, records := range s.doc {
		next[ns] = records
	}

	records := make(map[string]yaml.Node, len(s.doc[s.namespace])+len(s.pending))
	for k, n := range s.doc[s.namespace] {
		records[k] = n
	}

	for k, v := range s.pending {
		var n yaml.Node
		if err := n.Encode(v); err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}

		records[k] = n
	}

	next[s.namespace] = records

	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}

	s.doc = next
	s.damaged = false
	clear(s.pending)

	return nil
}

// Close implements Store. Staged writes that were never committed are dropped.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.pending)

	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp record file: %w", err)
	}

	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()

		return fmt.Errorf("write temp record file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()

		return fmt.Errorf("sync temp record file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		cleanup()

		return fmt.Errorf("close temp record file: %w", err)
	}

	if err := os.Chmod(tmpName, config.DefaultFilePermissions); err != nil {
		cleanup()

		return fmt.Errorf("chmod temp record file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		cleanup()

		return fmt.Errorf("replace record file: %w", err)
	}

	return nil
}
