// Package outcomes persists exported experiment snapshots to sqlite.
// The tracker itself is memory-only; this store is the restart boundary.
package outcomes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/aschepis/switchboard/backend"
	"github.com/aschepis/switchboard/experiment"
)

// Store handles persistence of experiment snapshots.
type Store struct {
	db *sql.DB
}

// NewStore creates a snapshot store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSnapshot writes one exported snapshot: the experiment row is replaced,
// the outcome rows are appended. Outcome inserts use INSERT OR IGNORE against
// the identity index so re-saving a snapshot after more traffic only adds the
// new outcomes.
func (s *Store) SaveSnapshot(ctx context.Context, snap *experiment.Snapshot) error {
	configJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var analysisJSON []byte
	if snap.Analysis != nil {
		if analysisJSON, err = json.Marshal(snap.Analysis); err != nil {
			return fmt.Errorf("marshal analysis: %w", err)
		}
	}

	query := sq.Insert("experiments").
		Columns("id", "config", "analysis", "updated_at").
		Values(snap.Config.ID, string(configJSON), string(analysisJSON), time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	// SQLite requires "OR REPLACE" to come after "INSERT", so we replace "INSERT INTO" with "INSERT OR REPLACE INTO"
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("save experiment %q: %w", snap.Config.ID, err)
	}

	for _, o := range snap.Outcomes {
		if err := s.appendOutcome(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// appendOutcome inserts a single outcome row, ignoring duplicates by
// identity (experiment, variant, request, timestamp).
func (s *Store) appendOutcome(ctx context.Context, o experiment.Outcome) error {
	var quality interface{}
	if o.Quality != nil {
		quality = *o.Quality
	}
	var rating interface{}
	if o.Rating != nil {
		rating = *o.Rating
	}

	query := sq.Insert("outcomes").
		Columns("experiment_id", "variant_id", "request_id", "timestamp", "response_time_ns",
			"input_tokens", "output_tokens", "total_tokens", "cost", "quality", "rating", "errored").
		Values(o.ExperimentID, o.VariantID, o.RequestID, o.Timestamp.UnixNano(), int64(o.ResponseTime),
			o.Usage.InputTokens, o.Usage.OutputTokens, o.Usage.TotalTokens, o.Cost, quality, rating, o.Errored)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	// SQLite requires "OR IGNORE" to come after "INSERT", so we replace "INSERT INTO" with "INSERT OR IGNORE INTO"
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// LoadSnapshot reads one experiment back: its config, its outcomes in
// timestamp order, and the analysis that was current at save time. The
// analysis is the stored view; callers wanting fresh statistics re-derive
// them from the outcomes.
func (s *Store) LoadSnapshot(ctx context.Context, experimentID string) (*experiment.Snapshot, error) {
	query := sq.Select("config", "analysis").
		From("experiments").
		Where(sq.Eq{"id": experimentID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var configJSON, analysisJSON string
	row := s.db.QueryRowContext(ctx, queryStr, args...)
	if err := row.Scan(&configJSON, &analysisJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, backend.NewNotFoundError(fmt.Sprintf("experiment %q not persisted", experimentID))
		}
		return nil, fmt.Errorf("load experiment %q: %w", experimentID, err)
	}

	snap := &experiment.Snapshot{}
	if err := json.Unmarshal([]byte(configJSON), &snap.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if analysisJSON != "" {
		snap.Analysis = &experiment.Analysis{}
		if err := json.Unmarshal([]byte(analysisJSON), snap.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}

	snap.Outcomes, err = s.loadOutcomes(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// loadOutcomes reads all outcome rows for one experiment in timestamp order.
func (s *Store) loadOutcomes(ctx context.Context, experimentID string) ([]experiment.Outcome, error) {
	query := sq.Select("experiment_id", "variant_id", "request_id", "timestamp", "response_time_ns",
		"input_tokens", "output_tokens", "total_tokens", "cost", "quality", "rating", "errored").
		From("outcomes").
		Where(sq.Eq{"experiment_id": experimentID}).
		OrderBy("timestamp ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("load outcomes for %q: %w", experimentID, err)
	}
	defer rows.Close()

	var outcomes []experiment.Outcome
	for rows.Next() {
		var o experiment.Outcome
		var timestamp, responseTime int64
		var quality sql.NullFloat64
		var rating sql.NullInt64

		if err := rows.Scan(&o.ExperimentID, &o.VariantID, &o.RequestID, &timestamp, &responseTime,
			&o.Usage.InputTokens, &o.Usage.OutputTokens, &o.Usage.TotalTokens, &o.Cost,
			&quality, &rating, &o.Errored); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}

		o.Timestamp = time.Unix(0, timestamp)
		o.ResponseTime = time.Duration(responseTime)
		if quality.Valid {
			q := quality.Float64
			o.Quality = &q
		}
		if rating.Valid {
			r := int(rating.Int64)
			o.Rating = &r
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// ListExperiments returns the ids of all persisted experiments.
func (s *Store) ListExperiments(ctx context.Context) ([]string, error) {
	query := sq.Select("id").From("experiments").OrderBy("updated_at ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan experiment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
