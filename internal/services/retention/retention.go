// Package retention decides which backups exceed the keep-count and deletes them.
package retention

import (
	"context"
	"sort"

	"github.com/fgeck/simple-backup/internal/models"
	"github.com/rs/zerolog"
)

// Plan marks the oldest entries for deletion so that at most keep remain.
// keep == models.KeepAll retains everything. entries is not modified.
func Plan(entries []models.BackupEntry, keep int) models.RetentionPlan {
	sorted := append([]models.BackupEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Before(sorted[j])
	})

	if keep < 0 || len(sorted) <= keep {
		return models.NewRetentionPlan(nil, sorted)
	}

	cut := len(sorted) - keep
	return models.NewRetentionPlan(sorted[:cut], sorted[cut:])
}

// Remover deletes a backup directory recursively.
type Remover interface {
	RemoveAll(ctx context.Context, p string) error
}

// Service defines the interface for applying a retention plan.
type Service interface {
	Prune(ctx context.Context, remover Remover, plan models.RetentionPlan) []models.PruneResult
}

// Impl implements the Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new retention service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Prune deletes every entry of plan in order. A failed deletion is recorded
// and the remaining entries are still attempted; once ctx is done the
// remaining entries are recorded as failed without being touched.
func (s *Impl) Prune(ctx context.Context, remover Remover, plan models.RetentionPlan) []models.PruneResult {
	entries := plan.Remove()
	if len(entries) == 0 {
		return nil
	}

	s.logger.Info().Int("count", len(entries)).Msg("removing old backups")

	results := make([]models.PruneResult, 0, len(entries))
	removed := 0
	for _, entry := range entries {
		result := models.PruneResult{Entry: entry}

		if err := ctx.Err(); err != nil {
			result.Error = err
		} else if err := remover.RemoveAll(ctx, entry.Path); err != nil {
			result.Error = err
		}

		if result.Error != nil {
			s.logger.Error().Err(result.Error).Str("backup", entry.Name).Msg("error while removing backup")
		} else {
			removed++
			s.logger.Debug().Str("backup", entry.Name).Msg("backup removed")
		}
		results = append(results, result)
	}

	s.logger.Info().
		Int("removed", removed).
		Int("failed", len(entries)-removed).
		Msg("old backups removed")

	return results
}
