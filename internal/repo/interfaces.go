package repo

import (
	"context"

	"github.com/animus-labs/modelimport/internal/domain"
)

type ImportFilter struct {
	Name       string
	Group      domain.StatusGroup
	DeployType domain.DeployType
	Deleted    bool
	Limit      int
}

// CommitTransitionParams describes a guarded status commit. The update only
// lands when the record is still in From and not deleted; anything else
// reports ErrInvalidTransition.
type CommitTransitionParams struct {
	ID         int64
	From       domain.ImportStatus
	To         domain.ImportStatus
	SplitCount *int
	OutputRefs map[domain.StageType]string
	ArtifactID string
	RevisionID string
	UpdatedBy  string
}

// ImportRepository manages model import records.
type ImportRepository interface {
	CreateImport(ctx context.Context, record domain.ModelImport) (domain.ModelImport, error)
	GetImport(ctx context.Context, id int64) (domain.ModelImport, error)
	GetImportByName(ctx context.Context, name string) (domain.ModelImport, error)
	GetImportByArtifact(ctx context.Context, artifactID string) (domain.ModelImport, error)
	ListImports(ctx context.Context, filter ImportFilter) ([]domain.ModelImport, error)
	CommitTransition(ctx context.Context, params CommitTransitionParams) (domain.ModelImport, error)
	LinkStageOutput(ctx context.Context, importID int64, stage domain.StageType, outputID string, updatedBy string) error
	MarkDeleted(ctx context.Context, id int64, newName string, updatedBy string) error
}

// StageOutputRepository manages immutable stage output rows.
type StageOutputRepository interface {
	CreateStageOutput(ctx context.Context, output domain.StageOutput) error
	GetStageOutput(ctx context.Context, id string) (domain.StageOutput, error)
	ListStageOutputs(ctx context.Context, importID int64) ([]domain.StageOutput, error)
}

// DependencyRepository reads the fan-out mappings for a record.
type DependencyRepository interface {
	ListDependants(ctx context.Context, importID int64) ([]domain.DependencyMapping, error)
	ResolveDisplayName(ctx context.Context, consumerID string) (string, error)
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}
