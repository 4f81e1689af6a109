package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// JSONLStore stores dispatch records in a JSONL file, one per line.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONLStore opens or creates the journal file at path.
func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return &JSONLStore{path: path}, nil
}

// Append writes the dispatch as one JSON line.
func (s *JSONLStore) Append(_ context.Context, d model.Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return json.NewEncoder(f).Encode(d)
}

// Query scans the file and returns matching dispatches. Unparseable lines
// are skipped.
func (s *JSONLStore) Query(_ context.Context, q Query) ([]model.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var res []model.Dispatch
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var d model.Dispatch
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			continue
		}
		if matches(d, q) {
			res = append(res, d)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close is a no-op; the file is opened per operation.
func (s *JSONLStore) Close() error { return nil }
