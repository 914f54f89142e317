// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/absmach/replayflow/broker"
)

// LogStore is the replay log backing a broker: every message published to a
// queue is retained here, independent of queue consumption state, so flows
// can replay history.
type LogStore interface {
	// Append retains a message in the queue's replay log.
	Append(queue string, msg broker.Message) error

	// Entries returns retained messages with a timestamp at or after from,
	// in publish order. A zero from returns the full log.
	Entries(queue string, from time.Time) ([]broker.Message, error)

	// LastID returns the highest message ID retained for the queue, or zero
	// when the log is empty.
	LastID(queue string) (broker.MessageID, error)

	// Trim drops retained messages with a timestamp before the given time.
	Trim(queue string, before time.Time) error

	// Close releases the store.
	Close() error
}

// MemoryStore is an in-memory LogStore.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]broker.Message
}

var _ LogStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory log store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]broker.Message)}
}

// Append retains a message.
func (s *MemoryStore) Append(queue string, msg broker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[queue] = append(s.logs[queue], msg)
	return nil
}

// Entries returns retained messages from the given time onward.
func (s *MemoryStore) Entries(queue string, from time.Time) ([]broker.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[queue]
	if from.IsZero() {
		out := make([]broker.Message, len(log))
		copy(out, log)
		return out, nil
	}

	// Logs are in publish order, so the cut point is a binary search.
	i := sort.Search(len(log), func(i int) bool {
		return !log[i].Timestamp.Before(from)
	})
	out := make([]broker.Message, len(log)-i)
	copy(out, log[i:])
	return out, nil
}

// LastID returns the highest retained message ID.
func (s *MemoryStore) LastID(queue string) (broker.MessageID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[queue]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].ID, nil
}

// Trim drops messages older than the given time.
func (s *MemoryStore) Trim(queue string, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[queue]
	i := sort.Search(len(log), func(i int) bool {
		return !log[i].Timestamp.Before(before)
	})
	s.logs[queue] = append([]broker.Message(nil), log[i:]...)
	return nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	return nil
}
