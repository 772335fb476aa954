package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/reels/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	query := `
		INSERT INTO render_artifacts (id, job_id, owner, file_name, byte_size, url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		artifact.ID, artifact.JobID, artifact.Owner,
		artifact.FileName, artifact.ByteSize, artifact.URL,
	).Scan(&artifact.CreatedAt)
}

// ListOwnerArtifacts returns an owner's artifacts, newest first.
func (db *DB) ListOwnerArtifacts(ctx context.Context, owner string) ([]models.Artifact, error) {
	query := `
		SELECT id, job_id, owner, file_name, byte_size, url, created_at
		FROM render_artifacts
		WHERE owner = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		err := rows.Scan(&a.ID, &a.JobID, &a.Owner, &a.FileName, &a.ByteSize, &a.URL, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}

	return artifacts, nil
}

// DeleteArtifact removes the metadata row and, inside the same transaction,
// calls removeFile. If the file cannot be removed the row is kept, so the
// two never disagree about an artifact that still exists. If the commit
// itself fails the row outlives its file; removeFile must therefore treat a
// missing file as removed so the next delete completes.
func (db *DB) DeleteArtifact(ctx context.Context, id uuid.UUID, removeFile func(context.Context, models.Artifact) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var a models.Artifact
	err = tx.QueryRowContext(ctx, `
		SELECT id, job_id, owner, file_name, byte_size, url, created_at
		FROM render_artifacts
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&a.ID, &a.JobID, &a.Owner, &a.FileName, &a.ByteSize, &a.URL, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock artifact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM render_artifacts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	if err := removeFile(ctx, a); err != nil {
		return fmt.Errorf("failed to remove artifact file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit artifact delete: %w", err)
	}
	return nil
}
