// Package store defines the Store interface and domain types for the
// client-side document cache. Implementations persist targets (registered
// queries), documents, and the reference index that ties them together.
//
// Two implementations exist: an in-memory store (store/memory) for
// non-durable clients, and a Pebble-backed store (store/pebbledb) for
// durable persistence on disk.
//
// All mutating and reading operations run inside a transaction opened with
// RunTransaction. A transaction observes its own writes: a row deleted
// earlier in the transaction is gone for every later read in the same
// transaction. Either every write in the transaction is applied or none is.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/driftdb-io/driftcache/internal/sequence"
)

// Common errors returned by Store operations.
var (
	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store: store closed")

	// ErrTargetNotFound is returned when a target does not exist.
	ErrTargetNotFound = errors.New("store: target not found")

	// ErrDocumentNotFound is returned when a document does not exist.
	ErrDocumentNotFound = errors.New("store: document not found")

	// ErrForeignTxn is returned when a transaction token from one store
	// implementation is passed to another.
	ErrForeignTxn = errors.New("store: transaction belongs to a different store")

	// ErrInvalidKey is returned when a document key cannot be parsed.
	ErrInvalidKey = errors.New("store: invalid document key")
)

// TargetID identifies a registered query target. IDs are assigned by the
// sync layer and are unique within one cache.
type TargetID int32

// DocumentKey is a slash-separated document path, e.g. "rooms/eros/messages/1".
// Keys must be non-empty and contain no empty segments and no NUL bytes.
type DocumentKey string

// Target is a registered query with its resume state. SequenceNumber is the
// stamp of the last time the target was listened to or refreshed; eviction
// uses it to find the least recently used targets.
type Target struct {
	ID             TargetID        `json:"id"`
	Query          string          `json:"query"`
	ResumeToken    []byte          `json:"resumeToken,omitempty"`
	SequenceNumber sequence.Number `json:"sequenceNumber"`
}

// Document is a cached document payload.
type Document struct {
	Key  DocumentKey `json:"key"`
	Data []byte      `json:"data"`
}

// Txn is an opaque transaction token. Store implementations hand their own
// concrete token to the RunTransaction callback; passing it to a different
// implementation fails with ErrForeignTxn.
type Txn interface {
	// Label returns the label the transaction was opened with.
	Label() string
}

// Store is the persistence interface for the document cache.
//
// Mutations take the current sequence number from the caller where recency
// is recorded; the store never advances the clock itself.
//
// Example usage:
//
//	err := st.RunTransaction(ctx, "apply-remote-event", func(txn store.Txn) error {
//	    if err := st.ApplyTarget(txn, target); err != nil {
//	        return err
//	    }
//	    return st.AddReference(txn, target.ID, docKey, seq)
//	})
type Store interface {
	// RunTransaction executes fn inside a new transaction. The transaction
	// commits iff fn returns nil; any error aborts it and no writes are
	// applied. The error from fn is returned unwrapped.
	RunTransaction(ctx context.Context, label string, fn func(Txn) error) error

	// ApplyTarget inserts or updates a target. The target's SequenceNumber
	// also raises the store's highest-known sequence number when it is larger.
	ApplyTarget(txn Txn, target Target) error

	// GetTarget returns a target by ID, or ErrTargetNotFound.
	GetTarget(txn Txn, id TargetID) (Target, error)

	// RemoveTarget removes a single target and its index rows. Documents the
	// target referenced keep their sentinel stamps and may become orphaned.
	// Removing a missing target is not an error.
	RemoveTarget(txn Txn, id TargetID) error

	// SetDocument stores a document payload and records seq as the
	// document's last-touch stamp.
	SetDocument(txn Txn, doc Document, seq sequence.Number) error

	// GetDocument returns a document by key, or ErrDocumentNotFound.
	GetDocument(txn Txn, key DocumentKey) (Document, error)

	// RemoveDocument removes a document, its sentinel stamp, and any index
	// rows pointing at it. Removing a missing document is not an error.
	RemoveDocument(txn Txn, key DocumentKey) error

	// AddReference records that target id references key and stamps the
	// document with seq.
	AddReference(txn Txn, id TargetID, key DocumentKey, seq sequence.Number) error

	// RemoveReference drops the reference from target id to key and stamps
	// the document with seq. The document itself is kept; with no remaining
	// references it becomes eligible for orphan collection.
	RemoveReference(txn Txn, id TargetID, key DocumentKey, seq sequence.Number) error

	// TouchDocument records seq as the document's last-touch stamp without
	// changing its payload or references.
	TouchDocument(txn Txn, key DocumentKey, seq sequence.Number) error

	// HighestSequenceNumber returns the largest stamp the store has
	// persisted. Used to seed the sequence clock on startup.
	HighestSequenceNumber(txn Txn) (sequence.Number, error)

	// TargetCount returns the number of targets in the cache.
	TargetCount(txn Txn) (int64, error)

	// Close releases resources held by the store. After Close is called,
	// all operations return ErrStoreClosed.
	Close() error
}

// ValidDocumentKey reports whether key is a well-formed document key:
// non-empty, no leading/trailing slash, no empty segments, no NUL bytes.
// NUL is reserved as a terminator in durable index encodings.
func ValidDocumentKey(key DocumentKey) bool {
	if key == "" {
		return false
	}
	s := string(key)
	if s[0] == '/' || s[len(s)-1] == '/' {
		return false
	}
	if strings.IndexByte(s, 0x00) >= 0 {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] == '/' && s[i-1] == '/' {
			return false
		}
	}
	return true
}
