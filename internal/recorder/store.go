// Package recorder persists and announces completed replications.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/replicator/internal/replication"
	"github.com/your-org/replicator/pkg/logger"
)

const keyPrefix = "transfer\x00"

// Store is an append-only transfer log backed by badger. Every Record call
// writes one new key in its own transaction; nothing is ever overwritten.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

var (
	_ replication.Recorder     = (*Store)(nil)
	_ replication.RecordFinder = (*Store)(nil)
)

type StoreConfig struct {
	Path string
	// InMemory keeps the log in memory only; Path is ignored.
	InMemory bool
	Logger   *zap.Logger
}

// OpenStore opens, or creates, the transfer log.
func OpenStore(cfg StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(logger.NewBadger(cfg.Logger))
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Name() string {
	return "badger"
}

// Record appends res to the log. Failed results are not recorded.
func (s *Store) Record(ctx context.Context, res replication.Result) error {
	if res.Status == replication.StatusFailed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := replication.TransferRecord{
		ID:              uuid.NewString(),
		SourceContainer: res.Request.SourceContainer,
		ObjectKey:       res.Request.ObjectKey,
		SourceURI:       res.SourceURI,
		DestinationURI:  res.DestinationURI,
		Status:          res.Status,
		Bytes:           res.BytesTransferred,
		RecordedAt:      s.now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transfer record: %w", err)
	}

	key := recordKey(rec.SourceContainer, rec.ObjectKey, rec.RecordedAt, rec.ID)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("append transfer record: %w", err)
	}
	return nil
}

// Latest returns the most recent record for container/key, or
// replication.ErrNoRecord.
func (s *Store) Latest(ctx context.Context, container, key string) (replication.TransferRecord, error) {
	var rec replication.TransferRecord
	if err := ctx.Err(); err != nil {
		return rec, err
	}

	prefix := objectPrefix(container, key)
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte(nil), prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var candidate replication.TransferRecord
			if err := json.Unmarshal(val, &candidate); err != nil {
				return fmt.Errorf("decode transfer record: %w", err)
			}
			// Keys containing NUL can share a prefix with shorter keys.
			if candidate.SourceContainer == container && candidate.ObjectKey == key {
				rec, found = candidate, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return replication.TransferRecord{}, fmt.Errorf("read transfer records: %w", err)
	}
	if !found {
		return replication.TransferRecord{}, replication.ErrNoRecord
	}
	return rec, nil
}

// Close flushes and closes the log.
func (s *Store) Close() error {
	return s.db.Close()
}

func objectPrefix(container, key string) []byte {
	return []byte(keyPrefix + container + "\x00" + key + "\x00")
}

func recordKey(container, key string, at time.Time, id string) []byte {
	return fmt.Appendf(objectPrefix(container, key), "%020d\x00%s", at.UnixNano(), id)
}
