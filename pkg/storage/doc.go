/*
Package storage keeps a bbolt-backed history of scheduler snapshots and
plans.

History exists for audit and offline inspection (`cadence history`). The
scheduler never restores from it: every run starts from a fresh plan and an
empty timeline, and the store is written to through a Recorder that listens on
the event broker.

# Layout

	cadence.db
	├── snapshots/
	│   ├── joesguns/   key: unix-nanos (8 bytes, big endian) + run id
	│   └── phantasy/   value: JSON SnapshotRecord
	└── analyses/
	    └── joesguns/   value: JSON AnalysisRecord

Keys sort by time, so listing newest first is a reverse cursor walk and
pruning deletes from the front of each target bucket.

# Usage

	store, err := storage.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	rec := storage.NewRecorder(store, broker, runID, recordEvery)
	rec.Start()
	defer rec.Stop()

	records, err := store.ListSnapshots("joesguns", 20)
*/
package storage
