package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/modelimport/internal/domain"
)

// DependencyStore reads fan-out mappings. The rows are written by the catalog
// service; this service never mutates them.
type DependencyStore struct {
	db DB
}

func NewDependencyStore(db DB) *DependencyStore {
	if db == nil {
		return nil
	}
	return &DependencyStore{db: db}
}

func (s *DependencyStore) ListDependants(ctx context.Context, importID int64) ([]domain.DependencyMapping, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dependency store not initialized")
	}
	if importID <= 0 {
		return nil, fmt.Errorf("import id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT import_id, consumer_id, created_by, created_at
		 FROM import_dependencies
		 WHERE import_id = $1
		 ORDER BY created_at ASC`,
		importID,
	)
	if err != nil {
		return nil, fmt.Errorf("list dependants: %w", err)
	}
	defer rows.Close()

	var out []domain.DependencyMapping
	for rows.Next() {
		var mapping domain.DependencyMapping
		if err := rows.Scan(&mapping.ImportID, &mapping.ConsumerID, &mapping.CreatedBy, &mapping.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dependant: %w", err)
		}
		out = append(out, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dependants: %w", err)
	}
	return out, nil
}

func (s *DependencyStore) ResolveDisplayName(ctx context.Context, consumerID string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("dependency store not initialized")
	}
	consumerID = strings.TrimSpace(consumerID)
	if consumerID == "" {
		return "", fmt.Errorf("consumer id is required")
	}
	var name string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT display_name FROM projects WHERE project_id = $1`,
		consumerID,
	)
	if err := row.Scan(&name); err != nil {
		return "", handleNotFound(err)
	}
	return name, nil
}
