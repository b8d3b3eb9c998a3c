package lru

// Results reports the outcome of one garbage collection pass.
//
// SequenceNumbersCollected is the number of stamps the pass requested, not
// the number of entries removed. Active targets are selected but survive,
// and every entry tied at the boundary stamp is removed even when only some
// were counted, so TargetsRemoved+DocumentsRemoved may fall on either side
// of it.
type Results struct {
	// DidRun is false when the pass was skipped because collection is
	// disabled or the cache is under the size threshold. A skipped pass
	// is not an error.
	DidRun bool

	// SequenceNumbersCollected is the number of sequence numbers the pass
	// selected for collection.
	SequenceNumbersCollected int64

	// TargetsRemoved is the number of targets removed.
	TargetsRemoved int64

	// DocumentsRemoved is the number of orphaned documents removed.
	DocumentsRemoved int64
}

// CollectionSkipped is the Results value returned by a pass that did not run.
var CollectionSkipped = Results{}
