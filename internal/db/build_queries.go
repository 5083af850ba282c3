package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// modelBuildLockKey is the pg advisory lock key that keeps concurrent
// builders in different processes from overlapping.
const modelBuildLockKey int64 = 0x65766e7472656331

// ModelBuildStats are the counters written when a build finishes.
type ModelBuildStats struct {
	Events         int
	Skipped        int
	VocabularySize int
}

// ModelBuildRow is used by the status endpoint and the inspect-model command.
type ModelBuildRow struct {
	BuildUUID      string     `json:"build_uuid"`
	Trigger        string     `json:"trigger"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	EventCount     int        `json:"event_count"`
	SkippedCount   int        `json:"skipped_count"`
	VocabularySize int        `json:"vocabulary_size"`
	ArtifactPath   string     `json:"artifact_path"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

// TryModelBuildLock takes the cross-process build lock. When ok is true the
// caller must call release once the build is done.
func (p *Pool) TryModelBuildLock(ctx context.Context) (release func(), ok bool, err error) {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin build lock tx: %w", err)
	}
	var acquired bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, modelBuildLockKey).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("acquire build lock: %w", err)
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}
	return func() {
		_ = tx.Rollback(context.Background())
	}, true, nil
}

// StartModelBuild records a running build and returns its UUID.
func (p *Pool) StartModelBuild(ctx context.Context, trigger, artifactPath string, startedAt time.Time) (string, error) {
	buildUUID := uuid.NewString()
	const q = `
INSERT INTO eventrec.model_builds (build_uuid, trigger, status, started_at, artifact_path)
VALUES ($1::uuid, $2, 'running', $3, $4)
`
	if _, err := p.Exec(ctx, q, buildUUID, trigger, startedAt.UTC(), artifactPath); err != nil {
		return "", fmt.Errorf("insert model build: %w", err)
	}
	return buildUUID, nil
}

// FinishModelBuild closes a build row with its final status.
func (p *Pool) FinishModelBuild(
	ctx context.Context,
	buildUUID string,
	status string,
	stats ModelBuildStats,
	finishedAt time.Time,
	errorMessage *string,
) error {
	const q = `
UPDATE eventrec.model_builds
SET status = $2::eventrec.model_build_status,
	finished_at = $3,
	event_count = $4,
	skipped_count = $5,
	vocabulary_size = $6,
	error_message = $7
WHERE build_uuid = $1::uuid
`
	tag, err := p.Exec(ctx, q, buildUUID, status, finishedAt.UTC(), stats.Events, stats.Skipped, stats.VocabularySize, errorMessage)
	if err != nil {
		return fmt.Errorf("update model build: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("model build %s not found", buildUUID)
	}
	return nil
}

// ListModelBuilds returns the most recent builds first.
func (p *Pool) ListModelBuilds(ctx context.Context, limit int) ([]ModelBuildRow, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	const q = `
SELECT
	mb.build_uuid::text,
	mb.trigger,
	mb.status::text,
	mb.started_at,
	mb.finished_at,
	mb.event_count,
	mb.skipped_count,
	mb.vocabulary_size,
	mb.artifact_path,
	mb.error_message
FROM eventrec.model_builds mb
ORDER BY mb.started_at DESC, mb.build_id DESC
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query model builds: %w", err)
	}
	defer rows.Close()

	items := make([]ModelBuildRow, 0, limit)
	for rows.Next() {
		var row ModelBuildRow
		if err := rows.Scan(
			&row.BuildUUID,
			&row.Trigger,
			&row.Status,
			&row.StartedAt,
			&row.FinishedAt,
			&row.EventCount,
			&row.SkippedCount,
			&row.VocabularySize,
			&row.ArtifactPath,
			&row.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan model build row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model build rows: %w", err)
	}
	return items, nil
}
