package models

import "time"

// RunState is a step of the backup runner.
type RunState string

// Runner states.
const (
	StateInit         RunState = "init"
	StateValidating   RunState = "validating"
	StatePreRemoving  RunState = "pre_removing"
	StateSyncing      RunState = "syncing"
	StatePostRemoving RunState = "post_removing"
	StateDone         RunState = "done"
	StateFailed       RunState = "failed"
)

// RunReport describes a finished (or failed) backup run.
type RunReport struct {
	State       RunState
	FailedStep  RunState // set when State is StateFailed
	Destination Destination
	BackupPath  string
	Existing    []BackupEntry
	Plan        RetentionPlan
	Pruned      []PruneResult
	Sync        *SyncResult
	Warnings    []string
	StartTime   time.Time
	Duration    time.Duration
}

// PruneFailures returns the prune results that failed.
func (r *RunReport) PruneFailures() []PruneResult {
	var failed []PruneResult
	for _, p := range r.Pruned {
		if p.Error != nil {
			failed = append(failed, p)
		}
	}
	return failed
}

// Inventory is the destination state reported by the list command.
type Inventory struct {
	Destination Destination
	Entries     []BackupEntry
	Plan        RetentionPlan
	Keep        int
}
