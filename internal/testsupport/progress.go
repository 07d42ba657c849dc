package testsupport

import (
	"context"
	"maps"
	"sync"

	"transcoder/internal/contracts"
)

// ProgressStore is an in-memory progress store that keeps every write.
type ProgressStore struct {
	mu      sync.Mutex
	values  map[string]map[contracts.EncodingID]string
	history map[string][]string
	// SetErr, when non-nil, is consulted before each write.
	SetErr func(value string) error
}

// NewProgressStore returns an empty store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		values:  map[string]map[contracts.EncodingID]string{},
		history: map[string][]string{},
	}
}

func (s *ProgressStore) Set(_ context.Context, videoID string, encodingID contracts.EncodingID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		if err := s.SetErr(value); err != nil {
			return err
		}
	}
	if s.values[videoID] == nil {
		s.values[videoID] = map[contracts.EncodingID]string{}
	}
	s.values[videoID][encodingID] = value
	key := videoID + "/" + string(encodingID)
	s.history[key] = append(s.history[key], value)
	return nil
}

func (s *ProgressStore) Entries(_ context.Context, videoID string) (map[contracts.EncodingID]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values[videoID]), nil
}

func (s *ProgressStore) Ping(context.Context) error { return nil }

func (s *ProgressStore) Close() error { return nil }

// History returns every value written for one entry, oldest first.
func (s *ProgressStore) History(videoID string, encodingID contracts.EncodingID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history[videoID+"/"+string(encodingID)]...)
}
