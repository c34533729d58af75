// Package reports persists stage output text in object storage and records an
// immutable row per output.
package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/animus-labs/modelimport/internal/domain"
	"github.com/animus-labs/modelimport/internal/repo"
	store "github.com/animus-labs/modelimport/internal/storage/objectstore"
	"github.com/google/uuid"
)

const DefaultMaxBytes = 65536

// SaveMeta carries the back-references stamped onto a stage output row.
type SaveMeta struct {
	ArtifactID string
	RevisionID string
	CreatedBy  string
}

type Store struct {
	outputs  repo.StageOutputRepository
	objects  store.Store
	bucket   string
	maxBytes int
	now      func() time.Time
}

func NewStore(outputs repo.StageOutputRepository, objects store.Store, bucket string, maxBytes int) (*Store, error) {
	if outputs == nil {
		return nil, errors.New("stage output repository is required")
	}
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{
		outputs:  outputs,
		objects:  objects,
		bucket:   bucket,
		maxBytes: maxBytes,
		now:      time.Now,
	}, nil
}

// Save caps the content at the byte limit on a character boundary, uploads it
// and inserts the owning row. The upload is removed again if the row insert
// fails so storage never holds orphaned objects.
func (s *Store) Save(ctx context.Context, importID int64, stage domain.StageType, content string, meta SaveMeta) (domain.StageOutput, error) {
	if s == nil || s.outputs == nil || s.objects == nil {
		return domain.StageOutput{}, errors.New("report store not initialized")
	}
	if importID <= 0 {
		return domain.StageOutput{}, errors.New("import id is required")
	}
	if !stage.Valid() {
		return domain.StageOutput{}, fmt.Errorf("invalid stage type: %q", stage)
	}

	stored := domain.TruncateUTF8(content, s.maxBytes)
	var truncatedFrom int64
	if len(stored) < len(content) {
		truncatedFrom = int64(len(content))
	}

	outputID := uuid.NewString()
	objectKey := fmt.Sprintf("imports/%d/%s/%s.txt", importID, stage, outputID)

	reader := strings.NewReader(stored)
	if err := s.objects.Put(ctx, s.bucket, objectKey, reader, int64(len(stored)), "text/plain; charset=utf-8"); err != nil {
		return domain.StageOutput{}, fmt.Errorf("upload stage output: %w", err)
	}

	output := domain.StageOutput{
		ID:            outputID,
		ImportID:      importID,
		Stage:         stage,
		ObjectKey:     objectKey,
		Size:          int64(len(stored)),
		TruncatedFrom: truncatedFrom,
		ArtifactID:    strings.TrimSpace(meta.ArtifactID),
		RevisionID:    strings.TrimSpace(meta.RevisionID),
		CreatedBy:     strings.TrimSpace(meta.CreatedBy),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.outputs.CreateStageOutput(ctx, output); err != nil {
		_ = s.objects.Delete(ctx, s.bucket, objectKey)
		return domain.StageOutput{}, fmt.Errorf("persist stage output: %w", err)
	}
	return output, nil
}

// Content streams a stored output back.
func (s *Store) Content(ctx context.Context, outputID string) (io.ReadCloser, domain.StageOutput, error) {
	if s == nil || s.outputs == nil || s.objects == nil {
		return nil, domain.StageOutput{}, errors.New("report store not initialized")
	}
	output, err := s.outputs.GetStageOutput(ctx, outputID)
	if err != nil {
		return nil, domain.StageOutput{}, err
	}
	body, _, err := s.objects.Get(ctx, s.bucket, output.ObjectKey)
	if err != nil {
		return nil, domain.StageOutput{}, fmt.Errorf("fetch stage output: %w", err)
	}
	return body, output, nil
}

// List returns all stored outputs for a record, oldest first.
func (s *Store) List(ctx context.Context, importID int64) ([]domain.StageOutput, error) {
	if s == nil || s.outputs == nil {
		return nil, errors.New("report store not initialized")
	}
	return s.outputs.ListStageOutputs(ctx, importID)
}
