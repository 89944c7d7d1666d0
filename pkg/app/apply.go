package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/config"
)

// EntryStatus is how one manifest entry ended.
type EntryStatus string

const (
	EntryStatusOK      EntryStatus = "ok"
	EntryStatusChanged EntryStatus = "changed"
	EntryStatusFailed  EntryStatus = "failed"
	EntryStatusSkipped EntryStatus = "skipped"
)

// EntryResult is the result of applying one manifest entry.
type EntryResult struct {
	ID       string        `json:"id"`
	Status   EntryStatus   `json:"status"`
	Outcome  *aur.Outcome  `json:"outcome,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Duration time.Duration `json:"duration_ns"`

	err error
}

// Err returns the error the entry failed with.
func (r *EntryResult) Err() error {
	return r.err
}

// ApplySummary counts entries by status.
type ApplySummary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ApplyResult is the result of applying a whole manifest.
type ApplyResult struct {
	Entries []*EntryResult `json:"entries"`
	Summary ApplySummary   `json:"summary"`
}

// Failed reports whether any entry failed.
func (r *ApplyResult) Failed() bool {
	return r.Summary.Failed > 0
}

// ApplyOptions controls Apply.
type ApplyOptions struct {
	// Check runs every entry in check mode regardless of its own setting.
	Check bool

	// KeepGoing continues after a failed entry instead of skipping the rest.
	KeepGoing bool
}

// Apply runs the manifest entries in order. After the first failure the
// remaining entries are skipped unless KeepGoing is set.
func Apply(ctx context.Context, exec Executor, m *config.Manifest, opts ApplyOptions, logger zerolog.Logger) *ApplyResult {
	result := &ApplyResult{Entries: make([]*EntryResult, 0, len(m.Packages))}
	stop := false

	for _, spec := range m.Packages {
		if stop || ctx.Err() != nil {
			result.Entries = append(result.Entries, &EntryResult{ID: spec.ID, Status: EntryStatusSkipped})
			continue
		}

		mode := spec.Mode()
		if opts.Check {
			mode.Check = true
		}

		log := logger.With().Str("entry", spec.ID).Str("operation", spec.Operation()).Logger()
		log.Debug().Strs("packages", spec.Packages).Bool("check", mode.Check).Msg("Applying entry")

		start := time.Now()
		outcome, err := exec.Execute(ctx, spec.InstallRequest, mode)
		entry := &EntryResult{
			ID:       spec.ID,
			Outcome:  outcome,
			Duration: time.Since(start),
			err:      err,
		}

		switch {
		case err != nil || (outcome != nil && outcome.Failed):
			entry.Status = EntryStatusFailed
			if err != nil {
				entry.Error = err.Error()
				entry.Code = aur.KindOf(err).Code()
			}
			log.Error().Err(err).Msg("Entry failed")
			stop = !opts.KeepGoing
		case outcome != nil && outcome.Changed:
			entry.Status = EntryStatusChanged
			log.Info().Msg(outcome.Msg)
		default:
			entry.Status = EntryStatusOK
		}
		result.Entries = append(result.Entries, entry)
	}

	result.Summary = summarize(result.Entries)
	return result
}

func summarize(entries []*EntryResult) ApplySummary {
	summary := ApplySummary{Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case EntryStatusOK:
			summary.OK++
		case EntryStatusChanged:
			summary.Changed++
		case EntryStatusFailed:
			summary.Failed++
		case EntryStatusSkipped:
			summary.Skipped++
		}
	}
	return summary
}
