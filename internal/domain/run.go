package domain

import "time"

// RunState is a step of the indexing run state machine.
type RunState string

const (
	RunIdle             RunState = "idle"
	RunLocked           RunState = "locked"
	RunCheckpointLoaded RunState = "checkpoint_loaded"
	RunExporting        RunState = "exporting"
	RunPolling          RunState = "polling"
	RunDownloading      RunState = "downloading"
	RunStreaming        RunState = "streaming"
	RunReconciling      RunState = "reconciling"
	RunFinalized        RunState = "finalized"
)

// RunOutcome summarizes how a run ended.
type RunOutcome string

const (
	OutcomeSuccess RunOutcome = "success"
	OutcomeFailed  RunOutcome = "failed"
	// OutcomeLocked means another run already holds the catalog lock.
	OutcomeLocked RunOutcome = "locked"
	// OutcomeUpToDate means the previous run succeeded and nothing changed upstream.
	OutcomeUpToDate RunOutcome = "up_to_date"
)

// RunOptions tunes a single run.
type RunOptions struct {
	// Force restarts from line zero and skips the upstream freshness check.
	Force bool
}

// RunResult is reported to the caller when a run ends.
type RunResult struct {
	CatalogKey string        `json:"catalogKey"`
	Outcome    RunOutcome    `json:"outcome"`
	State      RunState      `json:"state"`
	Resumed    bool          `json:"resumed"`
	StartLine  int64         `json:"startLine"`
	Lines      int64         `json:"lines"`
	Indexed    int64         `json:"indexed"`
	Failed     int64         `json:"failed"`
	Deleted    int64         `json:"deleted"`
	Patched    int64         `json:"patched"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}
