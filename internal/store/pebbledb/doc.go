// Package pebbledb implements the Store interface on a Pebble database
// for clients that opt into durable persistence.
//
// Usage:
//
//	st, err := pebbledb.Open(pebbledb.Config{Path: "/var/lib/driftcache"})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	err = st.RunTransaction(ctx, "apply-remote-event", func(txn store.Txn) error {
//	    return st.SetDocument(txn, doc, seq)
//	})
//
// Transactions:
//
// Each transaction is one Pebble indexed batch. Reads inside the
// transaction see the batch's own writes merged over the database, so a
// target removed earlier in the transaction is already gone for later
// reads. The batch commits with an fsync when the callback returns nil and
// is discarded otherwise, which makes rollback free.
//
// Keyspace:
//
// Rows live under /driftcache/v1 in the layout documented in the keys
// package. Document payloads are snappy-compressed. A single global row
// carries the highest sequence number, the target count, and the cache
// size in bytes; it is rewritten in the same batch as any mutation, so the
// counters can never drift from the rows they describe.
package pebbledb
