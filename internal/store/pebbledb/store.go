package pebbledb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/golang/snappy"

	"github.com/driftdb-io/driftcache/internal/sequence"
	"github.com/driftdb-io/driftcache/internal/store"
	"github.com/driftdb-io/driftcache/internal/store/keys"
)

// Config configures the Pebble store.
type Config struct {
	// Path is the directory for the Pebble database.
	Path string

	// InMemory backs the database with an in-memory filesystem instead of
	// disk. Intended for tests.
	InMemory bool
}

// Store implements the cache store on a Pebble database.
type Store struct {
	db *pebble.DB

	// txnMu serializes transactions; only one batch is open at a time.
	txnMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Open opens or creates a Pebble database at the configured path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("pebbledb: path is required")
	}

	opts := &pebble.Options{}
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("pebbledb: open %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// globalRecord is the single-row summary committed with every mutation.
type globalRecord struct {
	HighestSequenceNumber sequence.Number `json:"highestSequenceNumber"`
	TargetCount           int64           `json:"targetCount"`
	CacheSizeBytes        int64           `json:"cacheSizeBytes"`
}

func (g *globalRecord) raise(seq sequence.Number) {
	if seq > g.HighestSequenceNumber {
		g.HighestSequenceNumber = seq
	}
}

type pebbleTxn struct {
	store  *Store
	label  string
	batch  *pebble.Batch
	global globalRecord
	dirty  bool
}

func (t *pebbleTxn) Label() string { return t.label }

// get returns a copy of the value at key. found is false when the key is
// absent.
func (t *pebbleTxn) get(key string) (value []byte, found bool, err error) {
	raw, closer, err := t.batch.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()

	value = make([]byte, len(raw))
	copy(value, raw)
	return value, true, nil
}

func (t *pebbleTxn) set(key string, value []byte) error {
	return t.batch.Set([]byte(key), value, nil)
}

func (t *pebbleTxn) delete(key string) error {
	return t.batch.Delete([]byte(key), nil)
}

// scanKeys returns all keys under prefix, in order.
func (t *pebbleTxn) scanKeys(prefix string) ([]string, error) {
	iter, err := t.batch.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(keys.PrefixUpperBound(prefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// hasAny reports whether at least one key exists under prefix.
func (t *pebbleTxn) hasAny(prefix string) (bool, error) {
	iter, err := t.batch.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(keys.PrefixUpperBound(prefix)),
	})
	if err != nil {
		return false, err
	}
	defer iter.Close()

	found := iter.First()
	return found, iter.Error()
}

// RunTransaction executes fn against one indexed batch. The batch commits
// with fsync when fn returns nil and is discarded on error.
func (s *Store) RunTransaction(ctx context.Context, label string, fn func(store.Txn) error) error {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrStoreClosed
	}
	s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer func() { _ = batch.Close() }()

	txn := &pebbleTxn{store: s, label: label, batch: batch}
	global, err := s.readGlobal(batch)
	if err != nil {
		return fmt.Errorf("pebbledb: read global record: %w", err)
	}
	txn.global = global

	if err := fn(txn); err != nil {
		return err
	}

	if txn.dirty {
		data, err := json.Marshal(txn.global)
		if err != nil {
			return fmt.Errorf("pebbledb: marshal global record: %w", err)
		}
		if err := batch.Set([]byte(keys.GlobalKey), data, nil); err != nil {
			return fmt.Errorf("pebbledb: write global record: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebbledb: commit failed: %w", err)
	}
	return nil
}

func (s *Store) readGlobal(batch *pebble.Batch) (globalRecord, error) {
	value, closer, err := batch.Get([]byte(keys.GlobalKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return globalRecord{}, nil
		}
		return globalRecord{}, err
	}
	defer closer.Close()

	var rec globalRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return globalRecord{}, err
	}
	return rec, nil
}

// verify checks that txn belongs to this store and the store is open.
func (s *Store) verify(txn store.Txn) (*pebbleTxn, error) {
	t, ok := txn.(*pebbleTxn)
	if !ok || t.store != s {
		return nil, store.ErrForeignTxn
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, store.ErrStoreClosed
	}
	return t, nil
}

func encodeStamp(seq sequence.Number) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return buf[:]
}

func decodeStamp(value []byte) (sequence.Number, error) {
	if len(value) != 8 {
		return sequence.Invalid, fmt.Errorf("pebbledb: sentinel value has %d bytes, want 8", len(value))
	}
	return sequence.Number(binary.BigEndian.Uint64(value)), nil
}

func (s *Store) ApplyTarget(txn store.Txn, target store.Target) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}

	key, err := keys.TargetKeyPath(target.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("pebbledb: marshal target %d: %w", target.ID, err)
	}

	old, found, err := t.get(key)
	if err != nil {
		return fmt.Errorf("pebbledb: apply target %d: %w", target.ID, err)
	}
	if found {
		t.global.CacheSizeBytes -= rowSize(key, old)
	} else {
		t.global.TargetCount++
	}

	if err := t.set(key, data); err != nil {
		return fmt.Errorf("pebbledb: apply target %d: %w", target.ID, err)
	}
	t.global.CacheSizeBytes += rowSize(key, data)
	t.global.raise(target.SequenceNumber)
	t.dirty = true
	return nil
}

func (s *Store) GetTarget(txn store.Txn, id store.TargetID) (store.Target, error) {
	t, err := s.verify(txn)
	if err != nil {
		return store.Target{}, err
	}

	key, err := keys.TargetKeyPath(id)
	if err != nil {
		return store.Target{}, err
	}

	value, found, err := t.get(key)
	if err != nil {
		return store.Target{}, fmt.Errorf("pebbledb: get target %d: %w", id, err)
	}
	if !found {
		return store.Target{}, store.ErrTargetNotFound
	}

	var target store.Target
	if err := json.Unmarshal(value, &target); err != nil {
		return store.Target{}, fmt.Errorf("pebbledb: decode target %d: %w", id, err)
	}
	return target, nil
}

func (s *Store) RemoveTarget(txn store.Txn, id store.TargetID) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}
	return s.removeTarget(t, id)
}

// removeTarget drops the target record and both directions of its index
// rows. Sentinel stamps are left in place so referenced documents can
// later be collected as orphans. Removing a missing target is a no-op.
func (s *Store) removeTarget(t *pebbleTxn, id store.TargetID) error {
	key, err := keys.TargetKeyPath(id)
	if err != nil {
		return err
	}

	old, found, err := t.get(key)
	if err != nil {
		return fmt.Errorf("pebbledb: remove target %d: %w", id, err)
	}
	if !found {
		return nil
	}

	if err := t.delete(key); err != nil {
		return fmt.Errorf("pebbledb: remove target %d: %w", id, err)
	}
	t.global.TargetCount--
	t.global.CacheSizeBytes -= rowSize(key, old)

	scanPrefix, err := keys.TargetIndexScanPrefix(id)
	if err != nil {
		return err
	}
	indexKeys, err := t.scanKeys(scanPrefix)
	if err != nil {
		return fmt.Errorf("pebbledb: scan references of target %d: %w", id, err)
	}
	for _, indexKey := range indexKeys {
		_, docKey, err := keys.ParseTargetIndexKey(indexKey)
		if err != nil {
			return err
		}
		if err := t.delete(indexKey); err != nil {
			return fmt.Errorf("pebbledb: remove target %d: %w", id, err)
		}
		reverseKey, err := keys.DocIndexKeyPath(docKey, id)
		if err != nil {
			return err
		}
		if err := t.delete(reverseKey); err != nil {
			return fmt.Errorf("pebbledb: remove target %d: %w", id, err)
		}
	}

	t.dirty = true
	return nil
}

func (s *Store) SetDocument(txn store.Txn, doc store.Document, seq sequence.Number) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}
	if !store.ValidDocumentKey(doc.Key) {
		return store.ErrInvalidKey
	}

	key := keys.DocumentKeyPath(doc.Key)
	compressed := snappy.Encode(nil, doc.Data)

	old, found, err := t.get(key)
	if err != nil {
		return fmt.Errorf("pebbledb: set document %s: %w", doc.Key, err)
	}
	if found {
		t.global.CacheSizeBytes -= rowSize(key, old)
	}

	if err := t.set(key, compressed); err != nil {
		return fmt.Errorf("pebbledb: set document %s: %w", doc.Key, err)
	}
	if err := t.set(keys.SentinelKeyPath(doc.Key), encodeStamp(seq)); err != nil {
		return fmt.Errorf("pebbledb: set document %s: %w", doc.Key, err)
	}
	t.global.CacheSizeBytes += rowSize(key, compressed)
	t.global.raise(seq)
	t.dirty = true
	return nil
}

func (s *Store) GetDocument(txn store.Txn, key store.DocumentKey) (store.Document, error) {
	t, err := s.verify(txn)
	if err != nil {
		return store.Document{}, err
	}

	value, found, err := t.get(keys.DocumentKeyPath(key))
	if err != nil {
		return store.Document{}, fmt.Errorf("pebbledb: get document %s: %w", key, err)
	}
	if !found {
		return store.Document{}, store.ErrDocumentNotFound
	}

	data, err := snappy.Decode(nil, value)
	if err != nil {
		return store.Document{}, fmt.Errorf("pebbledb: decompress document %s: %w", key, err)
	}
	return store.Document{Key: key, Data: data}, nil
}

func (s *Store) RemoveDocument(txn store.Txn, key store.DocumentKey) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}
	return s.removeDocument(t, key)
}

// removeDocument drops the payload, the sentinel stamp, and both
// directions of any index rows pointing at the document.
func (s *Store) removeDocument(t *pebbleTxn, key store.DocumentKey) error {
	payloadKey := keys.DocumentKeyPath(key)
	old, found, err := t.get(payloadKey)
	if err != nil {
		return fmt.Errorf("pebbledb: remove document %s: %w", key, err)
	}
	if found {
		if err := t.delete(payloadKey); err != nil {
			return fmt.Errorf("pebbledb: remove document %s: %w", key, err)
		}
		t.global.CacheSizeBytes -= rowSize(payloadKey, old)
		t.dirty = true
	}

	if err := t.delete(keys.SentinelKeyPath(key)); err != nil {
		return fmt.Errorf("pebbledb: remove document %s: %w", key, err)
	}

	reverseKeys, err := t.scanKeys(keys.DocIndexScanPrefix(key))
	if err != nil {
		return fmt.Errorf("pebbledb: scan references of document %s: %w", key, err)
	}
	for _, reverseKey := range reverseKeys {
		docKey, id, err := keys.ParseDocIndexKey(reverseKey)
		if err != nil {
			return err
		}
		if err := t.delete(reverseKey); err != nil {
			return fmt.Errorf("pebbledb: remove document %s: %w", key, err)
		}
		forwardKey, err := keys.TargetIndexKeyPath(id, docKey)
		if err != nil {
			return err
		}
		if err := t.delete(forwardKey); err != nil {
			return fmt.Errorf("pebbledb: remove document %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) AddReference(txn store.Txn, id store.TargetID, key store.DocumentKey, seq sequence.Number) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}
	if !store.ValidDocumentKey(key) {
		return store.ErrInvalidKey
	}

	forwardKey, err := keys.TargetIndexKeyPath(id, key)
	if err != nil {
		return err
	}
	reverseKey, err := keys.DocIndexKeyPath(key, id)
	if err != nil {
		return err
	}

	if err := t.set(forwardKey, nil); err != nil {
		return fmt.Errorf("pebbledb: add reference %d->%s: %w", id, key, err)
	}
	if err := t.set(reverseKey, nil); err != nil {
		return fmt.Errorf("pebbledb: add reference %d->%s: %w", id, key, err)
	}
	if err := t.set(keys.SentinelKeyPath(key), encodeStamp(seq)); err != nil {
		return fmt.Errorf("pebbledb: add reference %d->%s: %w", id, key, err)
	}
	t.global.raise(seq)
	t.dirty = true
	return nil
}

func (s *Store) RemoveReference(txn store.Txn, id store.TargetID, key store.DocumentKey, seq sequence.Number) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}

	forwardKey, err := keys.TargetIndexKeyPath(id, key)
	if err != nil {
		return err
	}
	reverseKey, err := keys.DocIndexKeyPath(key, id)
	if err != nil {
		return err
	}

	if err := t.delete(forwardKey); err != nil {
		return fmt.Errorf("pebbledb: remove reference %d->%s: %w", id, key, err)
	}
	if err := t.delete(reverseKey); err != nil {
		return fmt.Errorf("pebbledb: remove reference %d->%s: %w", id, key, err)
	}
	if err := t.set(keys.SentinelKeyPath(key), encodeStamp(seq)); err != nil {
		return fmt.Errorf("pebbledb: remove reference %d->%s: %w", id, key, err)
	}
	t.global.raise(seq)
	t.dirty = true
	return nil
}

func (s *Store) TouchDocument(txn store.Txn, key store.DocumentKey, seq sequence.Number) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}

	if err := t.set(keys.SentinelKeyPath(key), encodeStamp(seq)); err != nil {
		return fmt.Errorf("pebbledb: touch document %s: %w", key, err)
	}
	t.global.raise(seq)
	t.dirty = true
	return nil
}

func (s *Store) HighestSequenceNumber(txn store.Txn) (sequence.Number, error) {
	t, err := s.verify(txn)
	if err != nil {
		return sequence.Invalid, err
	}
	return t.global.HighestSequenceNumber, nil
}

func (s *Store) TargetCount(txn store.Txn) (int64, error) {
	t, err := s.verify(txn)
	if err != nil {
		return 0, err
	}
	return t.global.TargetCount, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("pebbledb: close: %w", err)
	}
	return nil
}

// rowSize is the cache size contribution of one stored row. Only target
// records and document payloads count; index and sentinel rows are
// bookkeeping.
func rowSize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

var _ store.Store = (*Store)(nil)
