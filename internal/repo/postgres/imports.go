package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/modelimport/internal/domain"
	"github.com/animus-labs/modelimport/internal/repo"
)

const importColumns = `import_id, name, deploy_type, status, artifact_id, revision_id,
	file_split_count, stage_output_refs, metadata, deleted, created_by, updated_by, created_at, updated_at`

type ImportStore struct {
	db DB
}

func NewImportStore(db DB) *ImportStore {
	if db == nil {
		return nil
	}
	return &ImportStore{db: db}
}

func (s *ImportStore) CreateImport(ctx context.Context, record domain.ModelImport) (domain.ModelImport, error) {
	if s == nil || s.db == nil {
		return domain.ModelImport{}, fmt.Errorf("import store not initialized")
	}
	if record.FileSplitCount == 0 {
		record.FileSplitCount = 1
	}
	if err := record.Validate(); err != nil {
		return domain.ModelImport{}, err
	}
	refsJSON, err := encodeStageRefs(record.StageOutputRefs)
	if err != nil {
		return domain.ModelImport{}, fmt.Errorf("encode stage refs: %w", err)
	}
	metadataJSON, err := encodeMetadata(record.Metadata)
	if err != nil {
		return domain.ModelImport{}, fmt.Errorf("encode metadata: %w", err)
	}
	createdAt := normalizeTime(record.CreatedAt)

	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO model_imports (
			name,
			deploy_type,
			status,
			artifact_id,
			revision_id,
			file_split_count,
			stage_output_refs,
			metadata,
			deleted,
			created_by,
			updated_by,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,$9,$9,$10,$10)
		RETURNING import_id`,
		strings.TrimSpace(record.Name),
		string(record.DeployType),
		string(record.Status),
		nullIfEmpty(record.ArtifactID),
		nullIfEmpty(record.RevisionID),
		record.FileSplitCount,
		refsJSON,
		metadataJSON,
		strings.TrimSpace(record.CreatedBy),
		createdAt,
	)
	if err := row.Scan(&record.ID); err != nil {
		if isUniqueViolation(err) {
			return domain.ModelImport{}, repo.ErrDuplicateName
		}
		return domain.ModelImport{}, fmt.Errorf("insert model import: %w", err)
	}
	record.CreatedAt = createdAt
	record.UpdatedAt = createdAt
	record.UpdatedBy = strings.TrimSpace(record.CreatedBy)
	return record, nil
}

func (s *ImportStore) GetImport(ctx context.Context, id int64) (domain.ModelImport, error) {
	if s == nil || s.db == nil {
		return domain.ModelImport{}, fmt.Errorf("import store not initialized")
	}
	if id <= 0 {
		return domain.ModelImport{}, fmt.Errorf("import id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+importColumns+` FROM model_imports WHERE import_id = $1`,
		id,
	)
	return scanImport(row)
}

// GetImportByName only matches active records so a deleted record never
// shadows a reused name.
func (s *ImportStore) GetImportByName(ctx context.Context, name string) (domain.ModelImport, error) {
	if s == nil || s.db == nil {
		return domain.ModelImport{}, fmt.Errorf("import store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ModelImport{}, fmt.Errorf("import name is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+importColumns+` FROM model_imports WHERE name = $1 AND NOT deleted`,
		name,
	)
	return scanImport(row)
}

func (s *ImportStore) GetImportByArtifact(ctx context.Context, artifactID string) (domain.ModelImport, error) {
	if s == nil || s.db == nil {
		return domain.ModelImport{}, fmt.Errorf("import store not initialized")
	}
	artifactID = strings.TrimSpace(artifactID)
	if artifactID == "" {
		return domain.ModelImport{}, fmt.Errorf("artifact id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+importColumns+` FROM model_imports WHERE artifact_id = $1 AND NOT deleted`,
		artifactID,
	)
	return scanImport(row)
}

func buildImportListQuery(filter repo.ImportFilter) (string, []any, error) {
	if strings.TrimSpace(string(filter.Group)) != "" && !filter.Group.Valid() {
		return "", nil, fmt.Errorf("invalid status group: %q", filter.Group)
	}

	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if !filter.Deleted {
		clauses = append(clauses, "NOT deleted")
	}
	if strings.TrimSpace(filter.Name) != "" {
		args = append(args, strings.TrimSpace(filter.Name))
		clauses = append(clauses, fmt.Sprintf("name = $%d", len(args)))
	}
	if strings.TrimSpace(string(filter.DeployType)) != "" {
		args = append(args, string(filter.DeployType))
		clauses = append(clauses, fmt.Sprintf("deploy_type = $%d", len(args)))
	}
	if strings.TrimSpace(string(filter.Group)) != "" {
		statuses := domain.StatusesInGroup(filter.Group)
		placeholders := make([]string, 0, len(statuses))
		for _, status := range statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	query := `SELECT ` + importColumns + ` FROM model_imports`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

func (s *ImportStore) ListImports(ctx context.Context, filter repo.ImportFilter) ([]domain.ModelImport, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("import store not initialized")
	}
	query, args, err := buildImportListQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list model imports: %w", err)
	}
	defer rows.Close()

	var out []domain.ModelImport
	for rows.Next() {
		record, err := scanImportRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list model imports: %w", err)
	}
	return out, nil
}

// CommitTransition performs the guarded status update. The WHERE clause pins
// the source status, so a concurrent commit or a late callback against a
// moved record updates zero rows and surfaces as ErrInvalidTransition.
func (s *ImportStore) CommitTransition(ctx context.Context, params repo.CommitTransitionParams) (domain.ModelImport, error) {
	if s == nil || s.db == nil {
		return domain.ModelImport{}, fmt.Errorf("import store not initialized")
	}
	if params.ID <= 0 {
		return domain.ModelImport{}, fmt.Errorf("import id is required")
	}
	if !params.From.Valid() || !params.To.Valid() {
		return domain.ModelImport{}, fmt.Errorf("invalid status in transition commit")
	}

	refsJSON, err := encodeStageRefs(params.OutputRefs)
	if err != nil {
		return domain.ModelImport{}, fmt.Errorf("encode stage refs: %w", err)
	}

	var splitCount sql.NullInt64
	if params.SplitCount != nil {
		splitCount = sql.NullInt64{Int64: int64(*params.SplitCount), Valid: true}
	}

	row := s.db.QueryRowContext(
		ctx,
		`UPDATE model_imports
		 SET status = $1,
		     file_split_count = COALESCE($2, file_split_count),
		     stage_output_refs = stage_output_refs || $3,
		     artifact_id = COALESCE($4, artifact_id),
		     revision_id = COALESCE($5, revision_id),
		     updated_by = $6,
		     updated_at = now()
		 WHERE import_id = $7 AND status = $8 AND NOT deleted
		 RETURNING `+importColumns,
		string(params.To),
		splitCount,
		refsJSON,
		nullIfEmpty(params.ArtifactID),
		nullIfEmpty(params.RevisionID),
		strings.TrimSpace(params.UpdatedBy),
		params.ID,
		string(params.From),
	)
	record, err := scanImport(row)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ModelImport{}, repo.ErrInvalidTransition
		}
		return domain.ModelImport{}, err
	}
	return record, nil
}

func (s *ImportStore) LinkStageOutput(ctx context.Context, importID int64, stage domain.StageType, outputID string, updatedBy string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("import store not initialized")
	}
	if importID <= 0 {
		return fmt.Errorf("import id is required")
	}
	if !stage.Valid() {
		return fmt.Errorf("invalid stage type")
	}
	outputID = strings.TrimSpace(outputID)
	if outputID == "" {
		return fmt.Errorf("stage output id is required")
	}

	refsJSON, err := encodeStageRefs(map[domain.StageType]string{stage: outputID})
	if err != nil {
		return fmt.Errorf("encode stage refs: %w", err)
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE model_imports
		 SET stage_output_refs = stage_output_refs || $1,
		     updated_by = $2,
		     updated_at = now()
		 WHERE import_id = $3`,
		refsJSON,
		strings.TrimSpace(updatedBy),
		importID,
	)
	if err != nil {
		return fmt.Errorf("link stage output: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("link stage output: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *ImportStore) MarkDeleted(ctx context.Context, id int64, newName string, updatedBy string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("import store not initialized")
	}
	if id <= 0 {
		return fmt.Errorf("import id is required")
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("name is required")
	}

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE model_imports
		 SET deleted = true,
		     name = $1,
		     updated_by = $2,
		     updated_at = now()
		 WHERE import_id = $3 AND NOT deleted`,
		newName,
		strings.TrimSpace(updatedBy),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark import deleted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark import deleted: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImport(row *sql.Row) (domain.ModelImport, error) {
	record, err := scanImportFrom(row)
	if err != nil {
		return domain.ModelImport{}, handleNotFound(err)
	}
	return record, nil
}

func scanImportRows(rows *sql.Rows) (domain.ModelImport, error) {
	return scanImportFrom(rows)
}

func scanImportFrom(scanner rowScanner) (domain.ModelImport, error) {
	var record domain.ModelImport
	var artifactID, revisionID sql.NullString
	var refsJSON, metadataJSON []byte

	err := scanner.Scan(
		&record.ID,
		&record.Name,
		&record.DeployType,
		&record.Status,
		&artifactID,
		&revisionID,
		&record.FileSplitCount,
		&refsJSON,
		&metadataJSON,
		&record.Deleted,
		&record.CreatedBy,
		&record.UpdatedBy,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return domain.ModelImport{}, err
	}
	if artifactID.Valid {
		record.ArtifactID = artifactID.String
	}
	if revisionID.Valid {
		record.RevisionID = revisionID.String
	}
	record.StageOutputRefs, err = decodeStageRefs(refsJSON)
	if err != nil {
		return domain.ModelImport{}, fmt.Errorf("decode stage refs: %w", err)
	}
	record.Metadata, err = decodeMetadata(metadataJSON)
	if err != nil {
		return domain.ModelImport{}, fmt.Errorf("decode metadata: %w", err)
	}
	return record, nil
}
