package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, session_id, trust, score, tier, factors, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		a.ID,
		a.SessionID,
		a.Trust,
		a.Score,
		int(a.Tier),
		factorsJSON,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, trust, score, tier, factors, evaluated_at
		FROM risk_assessments
		WHERE session_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var tier int
		var factorsJSON []byte
		var evaluatedAt time.Time

		if err := rows.Scan(&a.ID, &a.SessionID, &a.Trust, &a.Score, &tier, &factorsJSON, &evaluatedAt); err != nil {
			continue
		}
		a.Tier = Tier(tier)
		a.TierLabel = a.Tier.Label()
		a.EvaluatedAt = evaluatedAt
		_ = json.Unmarshal(factorsJSON, &a.Factors)
		result = append(result, &a)
	}
	return result, nil
}
