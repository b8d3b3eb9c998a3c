// Package keys provides key encoding/decoding for the Pebble keyspace.
// Keys use zero-padded numeric encoding for lexicographic ordering.
//
// The cache keyspace is laid out as:
//
//	/driftcache/v1/targets/<targetIdZ>                -> target record
//	/driftcache/v1/target-index/<targetIdZ>/<docKey>  -> membership row
//	/driftcache/v1/doc-index/<docKey><NUL><targetIdZ> -> reverse membership row
//	/driftcache/v1/sentinels/<docKey>                 -> last-touch stamp
//	/driftcache/v1/documents/<docKey>                 -> document payload
//	/driftcache/v1/global                             -> global counters
//
// where targetIdZ is a zero-padded decimal of width 10 so that numeric
// target IDs compare correctly under lexicographic key ordering.
//
// Reverse rows terminate the embedded document key with a NUL byte rather
// than a slash. Document keys contain slashes themselves, so with a slash
// separator the rows of "rooms/a/docs/1" would sit inside the scan window
// of "rooms/a". Valid document keys never contain NUL, which keeps each
// document's window disjoint from every other document's.
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/driftdb-io/driftcache/internal/store"
)

// TargetIDWidth is the number of digits for zero-padded target IDs.
// Width 10 covers the full int32 range (max 2147483647).
const TargetIDWidth = 10

// DocKeyTerminator separates the embedded document key from the target ID
// in reverse membership rows. NUL never appears in a valid document key
// (store.ValidDocumentKey rejects it), so a scan window built from one key
// cannot cover the rows of a longer key that extends it.
const DocKeyTerminator = "\x00"

// Key prefixes.
const (
	// Prefix is the root prefix for all cache keys.
	Prefix = "/driftcache/v1"

	// TargetsPrefix is the prefix for target records.
	// Format: /driftcache/v1/targets/<targetIdZ>
	TargetsPrefix = Prefix + "/targets"

	// TargetIndexPrefix is the prefix for target-to-document membership rows.
	// Format: /driftcache/v1/target-index/<targetIdZ>/<docKey>
	TargetIndexPrefix = Prefix + "/target-index"

	// DocIndexPrefix is the prefix for document-to-target reverse rows.
	// Format: /driftcache/v1/doc-index/<docKey>/<targetIdZ>
	DocIndexPrefix = Prefix + "/doc-index"

	// SentinelsPrefix is the prefix for document last-touch stamps.
	// Format: /driftcache/v1/sentinels/<docKey>
	SentinelsPrefix = Prefix + "/sentinels"

	// DocumentsPrefix is the prefix for document payloads.
	// Format: /driftcache/v1/documents/<docKey>
	DocumentsPrefix = Prefix + "/documents"

	// GlobalKey holds the store-wide counters record.
	GlobalKey = Prefix + "/global"
)

// Common errors.
var (
	// ErrInvalidKey is returned when a key cannot be parsed.
	ErrInvalidKey = errors.New("keys: invalid key format")

	// ErrInvalidTargetID is returned when a target ID is negative.
	ErrInvalidTargetID = errors.New("keys: target id must be non-negative")
)

// EncodeTargetID encodes a target ID as a zero-padded decimal string
// of width TargetIDWidth for lexicographic ordering.
func EncodeTargetID(id store.TargetID) (string, error) {
	if id < 0 {
		return "", ErrInvalidTargetID
	}
	return fmt.Sprintf("%0*d", TargetIDWidth, id), nil
}

// DecodeTargetID decodes a zero-padded decimal string back to a target ID.
func DecodeTargetID(s string) (store.TargetID, error) {
	if len(s) != TargetIDWidth {
		return 0, fmt.Errorf("%w: target id segment %q has width %d, want %d", ErrInvalidKey, s, len(s), TargetIDWidth)
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid target id: %v", ErrInvalidKey, err)
	}
	return store.TargetID(v), nil
}

// TargetKeyPath builds the key for a target record.
func TargetKeyPath(id store.TargetID) (string, error) {
	idZ, err := EncodeTargetID(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", TargetsPrefix, idZ), nil
}

// TargetsScanPrefix returns the prefix for listing all target records.
func TargetsScanPrefix() string {
	return TargetsPrefix + "/"
}

// ParseTargetKey parses a target record key.
func ParseTargetKey(key string) (store.TargetID, error) {
	prefix := TargetsPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return 0, ErrInvalidKey
	}
	return DecodeTargetID(key[len(prefix):])
}

// TargetIndexKeyPath builds the key for a target-to-document membership row.
func TargetIndexKeyPath(id store.TargetID, docKey store.DocumentKey) (string, error) {
	idZ, err := EncodeTargetID(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", TargetIndexPrefix, idZ, docKey), nil
}

// TargetIndexScanPrefix returns the prefix for listing all documents
// referenced by one target.
func TargetIndexScanPrefix(id store.TargetID) (string, error) {
	idZ, err := EncodeTargetID(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/", TargetIndexPrefix, idZ), nil
}

// ParseTargetIndexKey parses a membership row key into its components.
func ParseTargetIndexKey(key string) (store.TargetID, store.DocumentKey, error) {
	prefix := TargetIndexPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return 0, "", ErrInvalidKey
	}

	rest := key[len(prefix):]
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", ErrInvalidKey
	}

	id, err := DecodeTargetID(parts[0])
	if err != nil {
		return 0, "", err
	}
	return id, store.DocumentKey(parts[1]), nil
}

// DocIndexKeyPath builds the key for a document-to-target reverse row.
// The target ID follows the NUL terminator so all rows for one document
// are contiguous and fall inside DocIndexScanPrefix's window.
func DocIndexKeyPath(docKey store.DocumentKey, id store.TargetID) (string, error) {
	idZ, err := EncodeTargetID(id)
	if err != nil {
		return "", err
	}
	return DocIndexScanPrefix(docKey) + idZ, nil
}

// DocIndexScanPrefix returns the prefix for listing all targets
// referencing one document. The terminating NUL excludes the rows of
// every key that merely extends docKey with further segments.
func DocIndexScanPrefix(docKey store.DocumentKey) string {
	return DocIndexPrefix + "/" + string(docKey) + DocKeyTerminator
}

// ParseDocIndexKey parses a reverse row key into its components.
// The document key may itself contain slashes; it ends at the NUL
// terminator, and the fixed-width target ID follows.
func ParseDocIndexKey(key string) (store.DocumentKey, store.TargetID, error) {
	prefix := DocIndexPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", 0, ErrInvalidKey
	}

	rest := key[len(prefix):]
	sep := strings.Index(rest, DocKeyTerminator)
	if sep <= 0 || sep == len(rest)-1 {
		return "", 0, ErrInvalidKey
	}

	id, err := DecodeTargetID(rest[sep+1:])
	if err != nil {
		return "", 0, err
	}
	return store.DocumentKey(rest[:sep]), id, nil
}

// SentinelKeyPath builds the key for a document's last-touch stamp.
func SentinelKeyPath(docKey store.DocumentKey) string {
	return fmt.Sprintf("%s/%s", SentinelsPrefix, docKey)
}

// SentinelsScanPrefix returns the prefix for listing all sentinel rows.
func SentinelsScanPrefix() string {
	return SentinelsPrefix + "/"
}

// ParseSentinelKey parses a sentinel key and returns the document key.
func ParseSentinelKey(key string) (store.DocumentKey, error) {
	prefix := SentinelsPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", ErrInvalidKey
	}
	docKey := key[len(prefix):]
	if docKey == "" {
		return "", ErrInvalidKey
	}
	return store.DocumentKey(docKey), nil
}

// DocumentKeyPath builds the key for a document payload.
func DocumentKeyPath(docKey store.DocumentKey) string {
	return fmt.Sprintf("%s/%s", DocumentsPrefix, docKey)
}

// ParseDocumentKey parses a payload key and returns the document key.
func ParseDocumentKey(key string) (store.DocumentKey, error) {
	prefix := DocumentsPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", ErrInvalidKey
	}
	docKey := key[len(prefix):]
	if docKey == "" {
		return "", ErrInvalidKey
	}
	return store.DocumentKey(docKey), nil
}

// PrefixUpperBound returns the exclusive upper bound for scanning all keys
// with the given prefix: the prefix with its last byte incremented.
func PrefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	// Prefix is all 0xff bytes; no upper bound exists.
	return ""
}
