// Package memory provides a non-durable in-memory Store for clients that
// do not opt into persistence. All state lives in maps guarded by a mutex;
// a transaction snapshot taken at RunTransaction entry restores the maps
// when the callback fails, so aborted transactions leave no writes behind.
//
// The Store doubles as the collection delegate: the same maps that serve
// reads and writes also answer stamp enumeration and removal during a
// garbage collection pass.
package memory

import (
	"context"
	"sync"

	"github.com/driftdb-io/driftcache/internal/lru"
	"github.com/driftdb-io/driftcache/internal/sequence"
	"github.com/driftdb-io/driftcache/internal/store"
)

// Store is the in-memory cache store.
type Store struct {
	// txnMu serializes transactions; only one runs at a time.
	txnMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	targets   map[store.TargetID]store.Target
	documents map[store.DocumentKey]store.Document
	// refsByTarget maps a target to the documents it references.
	refsByTarget map[store.TargetID]map[store.DocumentKey]struct{}
	// refsByDoc is the reverse index of refsByTarget.
	refsByDoc map[store.DocumentKey]map[store.TargetID]struct{}
	// stamps holds each document's last-touch sequence number. Entries
	// survive target removal, which is what makes orphan detection work.
	stamps  map[store.DocumentKey]sequence.Number
	highest sequence.Number
	bytes   int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		targets:      make(map[store.TargetID]store.Target),
		documents:    make(map[store.DocumentKey]store.Document),
		refsByTarget: make(map[store.TargetID]map[store.DocumentKey]struct{}),
		refsByDoc:    make(map[store.DocumentKey]map[store.TargetID]struct{}),
		stamps:       make(map[store.DocumentKey]sequence.Number),
	}
}

type memTxn struct {
	store *Store
	label string
}

func (t *memTxn) Label() string { return t.label }

// snapshot captures the full store state for rollback.
type snapshot struct {
	targets      map[store.TargetID]store.Target
	documents    map[store.DocumentKey]store.Document
	refsByTarget map[store.TargetID]map[store.DocumentKey]struct{}
	refsByDoc    map[store.DocumentKey]map[store.TargetID]struct{}
	stamps       map[store.DocumentKey]sequence.Number
	highest      sequence.Number
	bytes        int64
}

func (s *Store) snapshotLocked() *snapshot {
	snap := &snapshot{
		targets:      make(map[store.TargetID]store.Target, len(s.targets)),
		documents:    make(map[store.DocumentKey]store.Document, len(s.documents)),
		refsByTarget: make(map[store.TargetID]map[store.DocumentKey]struct{}, len(s.refsByTarget)),
		refsByDoc:    make(map[store.DocumentKey]map[store.TargetID]struct{}, len(s.refsByDoc)),
		stamps:       make(map[store.DocumentKey]sequence.Number, len(s.stamps)),
		highest:      s.highest,
		bytes:        s.bytes,
	}
	for id, t := range s.targets {
		snap.targets[id] = t
	}
	for key, doc := range s.documents {
		snap.documents[key] = doc
	}
	for id, refs := range s.refsByTarget {
		copied := make(map[store.DocumentKey]struct{}, len(refs))
		for key := range refs {
			copied[key] = struct{}{}
		}
		snap.refsByTarget[id] = copied
	}
	for key, refs := range s.refsByDoc {
		copied := make(map[store.TargetID]struct{}, len(refs))
		for id := range refs {
			copied[id] = struct{}{}
		}
		snap.refsByDoc[key] = copied
	}
	for key, seq := range s.stamps {
		snap.stamps[key] = seq
	}
	return snap
}

func (s *Store) restoreLocked(snap *snapshot) {
	s.targets = snap.targets
	s.documents = snap.documents
	s.refsByTarget = snap.refsByTarget
	s.refsByDoc = snap.refsByDoc
	s.stamps = snap.stamps
	s.highest = snap.highest
	s.bytes = snap.bytes
}

// RunTransaction executes fn against the live maps and rolls back to a
// snapshot when fn fails. Transactions run one at a time.
func (s *Store) RunTransaction(ctx context.Context, label string, fn func(store.Txn) error) error {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrStoreClosed
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	txn := &memTxn{store: s, label: label}
	if err := fn(txn); err != nil {
		s.mu.Lock()
		s.restoreLocked(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

// verify checks that txn belongs to this store and the store is open.
// The caller must hold s.mu.
func (s *Store) verifyLocked(txn store.Txn) error {
	if s.closed {
		return store.ErrStoreClosed
	}
	t, ok := txn.(*memTxn)
	if !ok || t.store != s {
		return store.ErrForeignTxn
	}
	return nil
}

func targetSize(t store.Target) int64 {
	// 16 bytes of fixed overhead for the ID and stamp.
	return int64(len(t.Query)+len(t.ResumeToken)) + 16
}

func documentSize(doc store.Document) int64 {
	return int64(len(doc.Key) + len(doc.Data))
}

func (s *Store) raiseLocked(seq sequence.Number) {
	if seq > s.highest {
		s.highest = seq
	}
}

func (s *Store) ApplyTarget(txn store.Txn, target store.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}

	if old, ok := s.targets[target.ID]; ok {
		s.bytes -= targetSize(old)
	}
	s.targets[target.ID] = target
	s.bytes += targetSize(target)
	s.raiseLocked(target.SequenceNumber)
	return nil
}

func (s *Store) GetTarget(txn store.Txn, id store.TargetID) (store.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return store.Target{}, err
	}

	target, ok := s.targets[id]
	if !ok {
		return store.Target{}, store.ErrTargetNotFound
	}
	return target, nil
}

func (s *Store) RemoveTarget(txn store.Txn, id store.TargetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}

	s.removeTargetLocked(id)
	return nil
}

// removeTargetLocked drops a target and its index rows. Sentinel stamps of
// referenced documents are kept so the documents can later be collected as
// orphans.
func (s *Store) removeTargetLocked(id store.TargetID) {
	target, ok := s.targets[id]
	if !ok {
		return
	}
	delete(s.targets, id)
	s.bytes -= targetSize(target)

	for key := range s.refsByTarget[id] {
		if refs := s.refsByDoc[key]; refs != nil {
			delete(refs, id)
			if len(refs) == 0 {
				delete(s.refsByDoc, key)
			}
		}
	}
	delete(s.refsByTarget, id)
}

func (s *Store) SetDocument(txn store.Txn, doc store.Document, seq sequence.Number) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}
	if !store.ValidDocumentKey(doc.Key) {
		return store.ErrInvalidKey
	}

	if old, ok := s.documents[doc.Key]; ok {
		s.bytes -= documentSize(old)
	}
	s.documents[doc.Key] = doc
	s.bytes += documentSize(doc)
	s.stamps[doc.Key] = seq
	s.raiseLocked(seq)
	return nil
}

func (s *Store) GetDocument(txn store.Txn, key store.DocumentKey) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return store.Document{}, err
	}

	doc, ok := s.documents[key]
	if !ok {
		return store.Document{}, store.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *Store) RemoveDocument(txn store.Txn, key store.DocumentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}

	s.removeDocumentLocked(key)
	return nil
}

// removeDocumentLocked drops a document, its sentinel stamp, and any index
// rows pointing at it.
func (s *Store) removeDocumentLocked(key store.DocumentKey) {
	if doc, ok := s.documents[key]; ok {
		delete(s.documents, key)
		s.bytes -= documentSize(doc)
	}
	delete(s.stamps, key)

	for id := range s.refsByDoc[key] {
		if refs := s.refsByTarget[id]; refs != nil {
			delete(refs, key)
		}
	}
	delete(s.refsByDoc, key)
}

func (s *Store) AddReference(txn store.Txn, id store.TargetID, key store.DocumentKey, seq sequence.Number) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}
	if !store.ValidDocumentKey(key) {
		return store.ErrInvalidKey
	}

	forward := s.refsByTarget[id]
	if forward == nil {
		forward = make(map[store.DocumentKey]struct{})
		s.refsByTarget[id] = forward
	}
	forward[key] = struct{}{}

	reverse := s.refsByDoc[key]
	if reverse == nil {
		reverse = make(map[store.TargetID]struct{})
		s.refsByDoc[key] = reverse
	}
	reverse[id] = struct{}{}

	s.stamps[key] = seq
	s.raiseLocked(seq)
	return nil
}

func (s *Store) RemoveReference(txn store.Txn, id store.TargetID, key store.DocumentKey, seq sequence.Number) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}

	if forward := s.refsByTarget[id]; forward != nil {
		delete(forward, key)
	}
	if reverse := s.refsByDoc[key]; reverse != nil {
		delete(reverse, id)
		if len(reverse) == 0 {
			delete(s.refsByDoc, key)
		}
	}

	s.stamps[key] = seq
	s.raiseLocked(seq)
	return nil
}

func (s *Store) TouchDocument(txn store.Txn, key store.DocumentKey, seq sequence.Number) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}

	s.stamps[key] = seq
	s.raiseLocked(seq)
	return nil
}

func (s *Store) HighestSequenceNumber(txn store.Txn) (sequence.Number, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return sequence.Invalid, err
	}
	return s.highest, nil
}

func (s *Store) TargetCount(txn store.Txn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return 0, err
	}
	return int64(len(s.targets)), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}

// Collection delegate. Orphaned means a sentinel stamp exists and no
// target references the document.

func (s *Store) ForEachTarget(ctx context.Context, txn store.Txn, visit func(store.Target) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}

	for _, target := range s.targets {
		if err := visit(target); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SequenceNumberCount(ctx context.Context, txn store.Txn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return 0, err
	}

	count := int64(len(s.targets))
	for key := range s.stamps {
		if len(s.refsByDoc[key]) == 0 {
			count++
		}
	}
	return count, nil
}

func (s *Store) ForEachOrphanedDocumentSequenceNumber(ctx context.Context, txn store.Txn, visit func(sequence.Number) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return err
	}

	for key, seq := range s.stamps {
		if len(s.refsByDoc[key]) == 0 {
			if err := visit(seq); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) RemoveTargets(ctx context.Context, txn store.Txn, upperBound sequence.Number, activeTargets lru.ActiveTargets) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return 0, err
	}

	var doomed []store.TargetID
	for id, target := range s.targets {
		if target.SequenceNumber <= upperBound && !activeTargets.Contains(id) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		s.removeTargetLocked(id)
	}
	return int64(len(doomed)), nil
}

func (s *Store) RemoveOrphanedDocuments(ctx context.Context, txn store.Txn, upperBound sequence.Number) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return 0, err
	}

	var doomed []store.DocumentKey
	for key, seq := range s.stamps {
		if seq <= upperBound && len(s.refsByDoc[key]) == 0 {
			doomed = append(doomed, key)
		}
	}
	for _, key := range doomed {
		s.removeDocumentLocked(key)
	}
	return int64(len(doomed)), nil
}

func (s *Store) CacheSize(ctx context.Context, txn store.Txn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyLocked(txn); err != nil {
		return 0, err
	}
	return s.bytes, nil
}

// GetCacheSizeBytes reports the cache size without a caller transaction,
// for stats scraping.
func (s *Store) GetCacheSizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.RunTransaction(ctx, "cache-stats", func(txn store.Txn) error {
		var err error
		size, err = s.CacheSize(ctx, txn)
		return err
	})
	return size, err
}

// GetSequenceNumberCount reports the tracked stamp count without a caller
// transaction, for stats scraping.
func (s *Store) GetSequenceNumberCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.RunTransaction(ctx, "cache-stats", func(txn store.Txn) error {
		var err error
		count, err = s.SequenceNumberCount(ctx, txn)
		return err
	})
	return count, err
}

var (
	_ store.Store  = (*Store)(nil)
	_ lru.Delegate = (*Store)(nil)
)
