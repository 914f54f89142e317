// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/s2"

	"github.com/absmach/replayflow/broker"
)

// Value encoding flags.
const (
	encodingRaw byte = iota
	encodingS2
)

// BadgerStore implements LogStore on BadgerDB, so the replay log survives
// broker restarts.
//
// Key format: log/{queue}/{id, 20 decimal digits} — zero-padding keeps
// badger's lexicographic iteration in publish order.
type BadgerStore struct {
	db       *badger.DB
	compress bool
}

var _ LogStore = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) a durable log store in dir. When
// compress is set, values are stored S2-compressed whenever that actually
// reduces size.
func OpenBadgerStore(dir string, compress bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}
	return &BadgerStore{db: db, compress: compress}, nil
}

func logKey(queue string, id broker.MessageID) []byte {
	return []byte(fmt.Sprintf("log/%s/%020d", queue, id))
}

func logPrefix(queue string) []byte {
	return []byte("log/" + queue + "/")
}

// Append retains a message.
func (s *BadgerStore) Append(queue string, msg broker.Message) error {
	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	value := append([]byte{encodingRaw}, data...)
	if s.compress {
		compressed := s2.Encode(nil, data)
		if len(compressed) < len(data) {
			value = append([]byte{encodingS2}, compressed...)
		}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(logKey(queue, msg.ID), value)
	})
}

// Entries returns retained messages from the given time onward.
func (s *BadgerStore) Entries(queue string, from time.Time) ([]broker.Message, error) {
	var out []broker.Message

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = logPrefix(queue)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				msg, err := decodeValue(val)
				if err != nil {
					return err
				}
				if from.IsZero() || !msg.Timestamp.Before(from) {
					out = append(out, msg)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastID returns the highest retained message ID.
func (s *BadgerStore) LastID(queue string) (broker.MessageID, error) {
	var last broker.MessageID

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = logPrefix(queue)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				msg, err := decodeValue(val)
				if err != nil {
					return err
				}
				last = msg.ID
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

// Trim drops messages older than the given time.
func (s *BadgerStore) Trim(queue string, before time.Time) error {
	entries, err := s.Entries(queue, time.Time{})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, msg := range entries {
			if !msg.Timestamp.Before(before) {
				break
			}
			if err := txn.Delete(logKey(queue, msg.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func decodeValue(val []byte) (broker.Message, error) {
	var msg broker.Message
	if len(val) == 0 {
		return msg, fmt.Errorf("empty log value")
	}

	data := val[1:]
	if val[0] == encodingS2 {
		decoded, err := s2.Decode(nil, data)
		if err != nil {
			return msg, fmt.Errorf("failed to decompress log value: %w", err)
		}
		data = decoded
	}

	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return msg, nil
}
