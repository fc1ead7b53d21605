package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bankshield/stepup/internal/risk"
)

// PostgresStore persists session snapshots in PostgreSQL. Assessment,
// plan, and step results are stored as JSONB documents; the hot filter
// columns (state, decision, updated_at) are first-class.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	assessment, plan, results, err := marshalDocs(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, channel, state, decision, current_step, assessment, plan, step_results, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		sess.ID, sess.Channel, string(sess.State), string(sess.Decision),
		sess.CurrentStep, assessment, plan, results,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel, state, decision, current_step, assessment, plan, step_results, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id)

	var (
		sess              Session
		state, decision   string
		assessment, plan  []byte
		results           []byte
		created, updated  time.Time
	)
	err := row.Scan(&sess.ID, &sess.Channel, &state, &decision, &sess.CurrentStep,
		&assessment, &plan, &results, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.State = State(state)
	sess.Decision = Decision(decision)
	sess.CreatedAt = created
	sess.UpdatedAt = updated
	if len(assessment) > 0 {
		sess.Assessment = &risk.Assessment{}
		if err := json.Unmarshal(assessment, sess.Assessment); err != nil {
			return nil, fmt.Errorf("failed to decode assessment: %w", err)
		}
	}
	if err := json.Unmarshal(plan, &sess.Plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &sess.StepResults); err != nil {
			return nil, fmt.Errorf("failed to decode step results: %w", err)
		}
	}
	return &sess, nil
}

func (s *PostgresStore) Update(ctx context.Context, sess *Session) error {
	assessment, plan, results, err := marshalDocs(sess)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET channel = $2, state = $3, decision = $4, current_step = $5,
		    assessment = $6, plan = $7, step_results = $8, updated_at = $9
		WHERE id = $1
	`,
		sess.ID, sess.Channel, string(sess.State), string(sess.Decision),
		sess.CurrentStep, assessment, plan, results, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownSession
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions WHERE updated_at < $1 ORDER BY updated_at ASC LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Decisions: make(map[Decision]int),
		Tiers:     make(map[risk.Tier]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT decision, COALESCE((assessment->>'tier')::int, -1), COUNT(*)
		FROM sessions
		GROUP BY 1, 2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var decision string
		var tier, count int
		if err := rows.Scan(&decision, &tier, &count); err != nil {
			continue
		}
		stats.Total += count
		if Decision(decision) == DecisionPending {
			stats.Pending += count
		} else {
			stats.Decisions[Decision(decision)] += count
		}
		if tier >= 0 {
			stats.Tiers[risk.Tier(tier)] += count
		}
	}
	return stats, nil
}

func marshalDocs(sess *Session) (assessment, plan, results []byte, err error) {
	if sess.Assessment != nil {
		assessment, err = json.Marshal(sess.Assessment)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal assessment: %w", err)
		}
	}
	plan, err = json.Marshal(sess.Plan)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	results, err = json.Marshal(sess.StepResults)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal step results: %w", err)
	}
	return assessment, plan, results, nil
}
