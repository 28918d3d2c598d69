package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/persistence"
)

// RunRepository stores runs as JSONB documents with indexed status and owner
// columns.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger.With("module", "postgres_run_repository"),
	}
}

func (rr *RunRepository) Save(ctx context.Context, run *models.GenerationRun) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	_, err = rr.db.ExecContext(ctx, `
		INSERT INTO generation_runs (id, owner_id, status, current_phase, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_phase = EXCLUDED.current_phase,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, run.ID, run.OwnerID, run.Status, run.CurrentPhase, data, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	return nil
}

func (rr *RunRepository) GetByID(ctx context.Context, id string) (*models.GenerationRun, error) {
	var data []byte

	err := rr.db.QueryRowContext(ctx,
		"SELECT data FROM generation_runs WHERE id = $1", id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to fetch run %s: %w", id, err)
	}

	var run models.GenerationRun

	err = json.Unmarshal(data, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}

	return &run, nil
}

func (rr *RunRepository) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.GenerationRun, error) {
	rows, err := rr.db.QueryContext(ctx,
		"SELECT data FROM generation_runs WHERE status = $1 ORDER BY created_at", status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs by status %s: %w", status, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var runs []*models.GenerationRun

	for rows.Next() {
		var data []byte

		err = rows.Scan(&data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		var run models.GenerationRun

		err = json.Unmarshal(data, &run)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal run row: %w", err)
		}

		runs = append(runs, &run)
	}

	return runs, rows.Err()
}
