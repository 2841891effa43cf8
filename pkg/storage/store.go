package storage

import (
	"errors"
	"time"

	"github.com/cuemby/cadence/pkg/types"
)

var (
	// ErrNotFound is returned when no record matches a query
	ErrNotFound = errors.New("not found")
)

// SnapshotRecord is one stored target report
type SnapshotRecord struct {
	RunID    string               `json:"run_id"`
	Time     time.Time            `json:"time"`
	Snapshot types.TargetSnapshot `json:"snapshot"`
}

// AnalysisRecord is one stored plan
type AnalysisRecord struct {
	RunID    string                `json:"run_id"`
	Time     time.Time             `json:"time"`
	Target   string                `json:"target"`
	Analysis types.AnalysisSummary `json:"analysis"`
}

// Store defines the interface for run history storage. History is written
// for audit and offline inspection only; schedulers never read it back.
type Store interface {
	// Snapshots
	SaveSnapshot(snap *types.Snapshot) error
	ListSnapshots(target string, limit int) ([]*SnapshotRecord, error)
	LatestSnapshot(target string) (*SnapshotRecord, error)

	// Analyses
	SaveAnalysis(record *AnalysisRecord) error
	ListAnalyses(target string, limit int) ([]*AnalysisRecord, error)

	// Utility
	Targets() ([]string, error)
	Prune(before time.Time) (int, error)
	Close() error
}
