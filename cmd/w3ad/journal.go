package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexliu/w3abridge/pkg/dispatch"
	"github.com/rexliu/w3abridge/pkg/storage/sqlite"
)

const (
	journalBuffer = 256
	pruneInterval = time.Hour
)

// journalStore is the slice of sqlite.Store the journal writes to.
type journalStore interface {
	RecordDispatch(ctx context.Context, rec sqlite.DispatchRecord) error
	PruneDispatches(ctx context.Context, cutoff time.Time) (int64, error)
}

// journal persists dispatch records off the dispatching goroutine.
type journal struct {
	store     journalStore
	logger    zerolog.Logger
	retention time.Duration
	records   chan dispatch.Record
}

func newJournal(store journalStore, logger zerolog.Logger, retention time.Duration) *journal {
	return &journal{
		store:     store,
		logger:    logger,
		retention: retention,
		records:   make(chan dispatch.Record, journalBuffer),
	}
}

// Observe implements dispatch.Observer. Records are dropped when the buffer
// is full.
func (j *journal) Observe(rec dispatch.Record) {
	select {
	case j.records <- rec:
	default:
		j.logger.Warn().Str("trace", rec.TraceID).Msg("journal full, dropping record")
	}
}

// run drains records until ctx ends, then flushes what is buffered.
func (j *journal) run(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	j.prune()
	for {
		select {
		case rec := <-j.records:
			j.write(rec)
		case <-ticker.C:
			j.prune()
		case <-ctx.Done():
			for {
				select {
				case rec := <-j.records:
					j.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (j *journal) write(rec dispatch.Record) {
	err := j.store.RecordDispatch(context.Background(), sqlite.DispatchRecord{
		TraceID:   rec.TraceID,
		Command:   rec.Command,
		Outcome:   rec.Outcome,
		Code:      string(rec.Code),
		StartedAt: rec.StartedAt,
		Duration:  rec.Duration,
	})
	if err != nil {
		j.logger.Warn().Err(err).Str("trace", rec.TraceID).Msg("journal write failed")
	}
}

func (j *journal) prune() {
	if j.retention <= 0 {
		return
	}
	removed, err := j.store.PruneDispatches(context.Background(), time.Now().Add(-j.retention))
	if err != nil {
		j.logger.Warn().Err(err).Msg("journal prune failed")
		return
	}
	if removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("journal pruned")
	}
}
