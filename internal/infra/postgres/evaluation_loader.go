package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-leaderboard-service/internal/domain"
)

// EvaluationLoader loads evaluation JSONB from Postgres.
type EvaluationLoader struct {
	pool *pgxpool.Pool
}

func NewEvaluationLoader(pool *pgxpool.Pool) *EvaluationLoader {
	return &EvaluationLoader{pool: pool}
}

func (l *EvaluationLoader) LoadEvaluation(ctx context.Context, evaluationID string) (domain.Evaluation, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM evaluations WHERE id=$1`, evaluationID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Evaluation{}, domain.ErrEvaluationNotFound
	}
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("load evaluation: %w", err)
	}
	var eval domain.Evaluation
	if err := json.Unmarshal(raw, &eval); err != nil {
		return domain.Evaluation{}, fmt.Errorf("unmarshal evaluation: %w", err)
	}
	if eval.ID == "" {
		eval.ID = evaluationID
	}
	return eval, nil
}

// SaveEvaluation inserts or replaces an evaluation document.
func (l *EvaluationLoader) SaveEvaluation(ctx context.Context, eval domain.Evaluation) error {
	data, err := json.Marshal(eval)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO evaluations (id, data) VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		eval.ID, string(data))
	if err != nil {
		return fmt.Errorf("save evaluation %q: %w", eval.ID, err)
	}
	return nil
}
