package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/modelimport/internal/domain"
)

type StageOutputStore struct {
	db DB
}

func NewStageOutputStore(db DB) *StageOutputStore {
	if db == nil {
		return nil
	}
	return &StageOutputStore{db: db}
}

// CreateStageOutput inserts an immutable row. There is no update or delete
// path; superseded outputs stay behind for audit.
func (s *StageOutputStore) CreateStageOutput(ctx context.Context, output domain.StageOutput) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage output store not initialized")
	}
	if err := output.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(output.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stage_outputs (
			output_id,
			import_id,
			stage,
			object_key,
			size_bytes,
			truncated_from,
			artifact_id,
			revision_id,
			created_by,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		strings.TrimSpace(output.ID),
		output.ImportID,
		string(output.Stage),
		strings.TrimSpace(output.ObjectKey),
		output.Size,
		output.TruncatedFrom,
		nullIfEmpty(output.ArtifactID),
		nullIfEmpty(output.RevisionID),
		strings.TrimSpace(output.CreatedBy),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage output: %w", err)
	}
	return nil
}

func (s *StageOutputStore) GetStageOutput(ctx context.Context, id string) (domain.StageOutput, error) {
	if s == nil || s.db == nil {
		return domain.StageOutput{}, fmt.Errorf("stage output store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.StageOutput{}, fmt.Errorf("stage output id is required")
	}
	var output domain.StageOutput
	var artifactID, revisionID sql.NullString
	row := s.db.QueryRowContext(
		ctx,
		`SELECT output_id, import_id, stage, object_key, size_bytes, truncated_from, artifact_id, revision_id, created_by, created_at
		 FROM stage_outputs
		 WHERE output_id = $1`,
		id,
	)
	err := row.Scan(
		&output.ID,
		&output.ImportID,
		&output.Stage,
		&output.ObjectKey,
		&output.Size,
		&output.TruncatedFrom,
		&artifactID,
		&revisionID,
		&output.CreatedBy,
		&output.CreatedAt,
	)
	if err != nil {
		return domain.StageOutput{}, handleNotFound(err)
	}
	if artifactID.Valid {
		output.ArtifactID = artifactID.String
	}
	if revisionID.Valid {
		output.RevisionID = revisionID.String
	}
	return output, nil
}

func (s *StageOutputStore) ListStageOutputs(ctx context.Context, importID int64) ([]domain.StageOutput, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("stage output store not initialized")
	}
	if importID <= 0 {
		return nil, fmt.Errorf("import id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT output_id, import_id, stage, object_key, size_bytes, truncated_from, artifact_id, revision_id, created_by, created_at
		 FROM stage_outputs
		 WHERE import_id = $1
		 ORDER BY created_at ASC`,
		importID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage outputs: %w", err)
	}
	defer rows.Close()

	var out []domain.StageOutput
	for rows.Next() {
		var output domain.StageOutput
		var artifactID, revisionID sql.NullString
		err := rows.Scan(
			&output.ID,
			&output.ImportID,
			&output.Stage,
			&output.ObjectKey,
			&output.Size,
			&output.TruncatedFrom,
			&artifactID,
			&revisionID,
			&output.CreatedBy,
			&output.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stage output: %w", err)
		}
		if artifactID.Valid {
			output.ArtifactID = artifactID.String
		}
		if revisionID.Valid {
			output.RevisionID = revisionID.String
		}
		out = append(out, output)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage outputs: %w", err)
	}
	return out, nil
}
