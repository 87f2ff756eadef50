package ranking

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

// Row is one persisted ranking entry, keyed by (item_type, item_id).
type Row struct {
	ItemType  ItemType  `db:"item_type" json:"item_type"`
	ItemID    string    `db:"item_id" json:"item_id"`
	RawScore  float64   `db:"raw_score" json:"raw_score"`
	NormScore float64   `db:"norm_score" json:"norm_score"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// InputsProvider supplies the engagement counters the scoring function
// consumes. Implemented by the content store; read-only from here.
type InputsProvider interface {
	// EligibleIDs lists public, non-hidden, non-deleted items of one type,
	// optionally restricted to those changed since a cutoff.
	EligibleIDs(ctx context.Context, t ItemType, changedSince time.Time) ([]string, error)
	// ScoreInput returns the current counters for one item. Errors when
	// the item no longer exists (deleted mid-batch).
	ScoreInput(ctx context.Context, t ItemType, id string) (*ScoreInput, error)
}

// RankingStore persists and serves ranking rows.
type RankingStore interface {
	UpsertRawScore(ctx context.Context, t ItemType, id string, raw float64) error
	UpsertNormScore(ctx context.Context, t ItemType, id string, norm float64) error
	// TopRanked returns rows of one type ordered by norm_score descending.
	TopRanked(ctx context.Context, t ItemType, limit, offset int) ([]Row, error)
	// RankingSnapshot returns the most recently updated rows across all
	// types, the bounded window the normalization pass runs over.
	RankingSnapshot(ctx context.Context, limit int) ([]Row, error)
}

// Scope restricts a recompute run.
type Scope struct {
	// Type limits the raw pass to one item type; empty means both.
	Type ItemType
	// ChangedSince limits the raw pass to items changed after this time.
	ChangedSince time.Time
	// DryRun computes and reports without persisting anything.
	DryRun bool
}

// ItemError records one item's failure without aborting the batch.
type ItemError struct {
	Type ItemType `json:"item_type"`
	ID   string   `json:"item_id"`
	Err  string   `json:"error"`
}

// Result summarizes a recompute run.
type Result struct {
	CardsProcessed       int         `json:"cards_processed"`
	CollectionsProcessed int         `json:"collections_processed"`
	Normalized           int         `json:"normalized"`
	Errors               []ItemError `json:"errors,omitempty"`
}

// Succeeded is the number of items scored without error.
func (r *Result) Succeeded() int {
	return r.CardsProcessed + r.CollectionsProcessed
}

// Worker recomputes ranking scores in batch: a raw-score pass over the
// eligible population, then a z-score normalization pass over a bounded
// snapshot of recently updated rows.
type Worker struct {
	inputs        InputsProvider
	rankings      RankingStore
	profiles      map[ItemType]WeightProfile
	abuse         AbuseRater
	snapshotLimit int
	logger        *log.Logger
}

// NewWorker creates a batch recompute worker. A nil abuse rater disables
// the abuse multiplier.
func NewWorker(inputs InputsProvider, rankings RankingStore, profiles map[ItemType]WeightProfile, abuse AbuseRater, snapshotLimit int, logger *log.Logger) *Worker {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	if abuse == nil {
		abuse = NoopAbuseRater{}
	}
	if snapshotLimit <= 0 {
		snapshotLimit = 5000
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Worker{
		inputs:        inputs,
		rankings:      rankings,
		profiles:      profiles,
		abuse:         abuse,
		snapshotLimit: snapshotLimit,
		logger:        logger,
	}
}

// Recompute runs both passes. Per-item failures are collected into the
// result, not returned as an error; only a failure to list the population
// or read the snapshot aborts the run. Rerunning with unchanged inputs
// reproduces the same scores, so retrying after partial failure is safe.
func (w *Worker) Recompute(ctx context.Context, scope Scope) (*Result, error) {
	res := &Result{}

	types := AllItemTypes()
	if scope.Type != "" {
		types = []ItemType{scope.Type}
	}

	for _, t := range types {
		profile, ok := w.profiles[t]
		if !ok {
			return nil, fmt.Errorf("no weight profile for item type %q", t)
		}

		ids, err := w.inputs.EligibleIDs(ctx, t, scope.ChangedSince)
		if err != nil {
			return nil, fmt.Errorf("list eligible %ss: %w", t, err)
		}

		processed := 0
		for _, id := range ids {
			if err := w.scoreOne(ctx, t, id, profile, scope.DryRun); err != nil {
				res.Errors = append(res.Errors, ItemError{Type: t, ID: id, Err: err.Error()})
				continue
			}
			processed++
		}

		switch t {
		case TypeCard:
			res.CardsProcessed = processed
		case TypeCollection:
			res.CollectionsProcessed = processed
		}
		w.logger.Info("raw pass done", "type", t, "processed", processed, "errors", len(res.Errors))
	}

	if err := w.normalize(ctx, scope.DryRun, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (w *Worker) scoreOne(ctx context.Context, t ItemType, id string, profile WeightProfile, dryRun bool) error {
	in, err := w.inputs.ScoreInput(ctx, t, id)
	if err != nil {
		return fmt.Errorf("score input: %w", err)
	}
	raw := Score(*in, profile) * clamp01(w.abuse.Rate(ctx, t, id))

	if dryRun {
		return nil
	}
	if err := w.rankings.UpsertRawScore(ctx, t, id, raw); err != nil {
		return fmt.Errorf("upsert raw score: %w", err)
	}
	return nil
}

// normalize rewrites norm_score = (raw - mean) / stddev for every row in
// the snapshot. Raw scores are not comparable in magnitude across runs;
// the z-score against a live snapshot is what consumers rank by.
func (w *Worker) normalize(ctx context.Context, dryRun bool, res *Result) error {
	rows, err := w.rankings.RankingSnapshot(ctx, w.snapshotLimit)
	if err != nil {
		return fmt.Errorf("read ranking snapshot: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	raws := make([]float64, len(rows))
	for i, r := range rows {
		raws[i] = r.RawScore
	}
	mean, stddev := meanStddev(raws)

	for _, r := range rows {
		norm := 0.0
		if stddev > 0 {
			norm = (r.RawScore - mean) / stddev
		}
		if dryRun {
			res.Normalized++
			continue
		}
		if err := w.rankings.UpsertNormScore(ctx, r.ItemType, r.ItemID, norm); err != nil {
			res.Errors = append(res.Errors, ItemError{Type: r.ItemType, ID: r.ItemID, Err: err.Error()})
			continue
		}
		res.Normalized++
	}

	w.logger.Info("normalization done", "rows", len(rows), "mean", mean, "stddev", stddev)
	return nil
}

// meanStddev returns the sample mean and population standard deviation.
func meanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
