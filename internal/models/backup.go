package models

import (
	"time"
)

// BackupEntry is a backup directory found at the destination.
type BackupEntry struct {
	Name string    // directory name, e.g. 2024-05-01_10-00-00
	Path string    // full path at the destination
	Time time.Time // parsed from Name
}

// Before orders entries by timestamp, then by name.
func (e BackupEntry) Before(o BackupEntry) bool {
	if !e.Time.Equal(o.Time) {
		return e.Time.Before(o.Time)
	}
	return e.Name < o.Name
}

// RetentionPlan lists the backups to delete. It is immutable; accessors
// return copies.
type RetentionPlan struct {
	remove []BackupEntry
	keep   []BackupEntry
}

// NewRetentionPlan builds a plan from the entries to remove and to keep.
func NewRetentionPlan(remove, keep []BackupEntry) RetentionPlan {
	return RetentionPlan{
		remove: append([]BackupEntry(nil), remove...),
		keep:   append([]BackupEntry(nil), keep...),
	}
}

// Remove returns the entries marked for deletion, oldest first.
func (p RetentionPlan) Remove() []BackupEntry {
	return append([]BackupEntry(nil), p.remove...)
}

// Keep returns the retained entries, oldest first.
func (p RetentionPlan) Keep() []BackupEntry {
	return append([]BackupEntry(nil), p.keep...)
}

// Empty reports whether nothing is to be deleted.
func (p RetentionPlan) Empty() bool {
	return len(p.remove) == 0
}

// Marked reports whether the entry named name is to be deleted.
func (p RetentionPlan) Marked(name string) bool {
	for _, e := range p.remove {
		if e.Name == name {
			return true
		}
	}
	return false
}

// PruneResult holds the outcome of deleting one backup.
type PruneResult struct {
	Entry BackupEntry
	Error error
}

// SyncResult holds the result of an rsync invocation.
type SyncResult struct {
	ExitCode int
	Output   []string
	Duration time.Duration
	Error    error
}
