// Package imports drives the model import validation pipeline: record
// creation, guarded status transitions, stage output capture, logical delete
// and the dependant fan-out that follows serverless changes.
package imports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/animus-labs/modelimport/internal/domain"
	"github.com/animus-labs/modelimport/internal/repo"
	"github.com/animus-labs/modelimport/internal/service/reports"
)

// ErrInvalidInput marks requests rejected before any state change.
var ErrInvalidInput = errors.New("invalid input")

// AuditContext captures request identity details for audit logging.
type AuditContext struct {
	Actor     string
	RequestID string
	IP        net.IP
	UserAgent string
	Path      string
	Service   string
}

// RecordRef identifies a pipeline record by any one lookup key. ID wins over
// Name, Name over ArtifactID.
type RecordRef struct {
	ID         int64
	Name       string
	ArtifactID string
}

// StageContent is raw stage text destined for the report store.
type StageContent struct {
	Stage   domain.StageType
	Content string
}

// TransitionInput is one requested status move plus its side payload.
type TransitionInput struct {
	Target     domain.ImportStatus
	SplitCount *int
	Outputs    []StageContent
	ArtifactID string
	RevisionID string
}

type CreateInput struct {
	Name       string
	DeployType domain.DeployType
	Metadata   domain.Metadata
}

// Canceller stops an in-flight external scan job. Implementations must not
// block deletion on failure.
type Canceller interface {
	Cancel(ctx context.Context, artifactID string, revisionID string) error
}

// FanoutNotifier tells dependants about record changes.
type FanoutNotifier interface {
	RecordChanged(ctx context.Context, record domain.ModelImport) error
	RecordDeleted(ctx context.Context, importID int64, originalName string) error
}

// ReportSaver persists one stage output and returns its stored form.
type ReportSaver interface {
	Save(ctx context.Context, importID int64, stage domain.StageType, content string, meta reports.SaveMeta) (domain.StageOutput, error)
}

// Service owns pipeline semantics. All state mutation for one record happens
// under that record's lock; commits are single guarded updates so a lost race
// surfaces as repo.ErrInvalidTransition instead of silent regression.
type Service struct {
	repo      repo.ImportRepository
	reports   ReportSaver
	notifier  FanoutNotifier
	canceller Canceller
	audit     repo.AuditEventAppender
	logger    *slog.Logger
	locks     *recordLocks
	now       func() time.Time
}

func NewService(importRepo repo.ImportRepository, reportStore ReportSaver, notifier FanoutNotifier, canceller Canceller, audit repo.AuditEventAppender, logger *slog.Logger) (*Service, error) {
	if importRepo == nil {
		return nil, errors.New("import repository is required")
	}
	if reportStore == nil {
		return nil, errors.New("report store is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      importRepo,
		reports:   reportStore,
		notifier:  notifier,
		canceller: canceller,
		audit:     audit,
		logger:    logger,
		locks:     newRecordLocks(),
		now:       time.Now,
	}, nil
}

func (s *Service) Create(ctx context.Context, input CreateInput, auditCtx AuditContext) (domain.ModelImport, error) {
	if s == nil || s.repo == nil {
		return domain.ModelImport{}, errors.New("import service not initialized")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return domain.ModelImport{}, fmt.Errorf("%w: import name is required", ErrInvalidInput)
	}
	if !input.DeployType.Valid() {
		return domain.ModelImport{}, fmt.Errorf("%w: invalid deploy type %q", ErrInvalidInput, input.DeployType)
	}

	record := domain.ModelImport{
		Name:            name,
		DeployType:      input.DeployType,
		Status:          domain.StatusCreated,
		FileSplitCount:  1,
		StageOutputRefs: map[domain.StageType]string{},
		Metadata:        input.Metadata.Clone(),
		CreatedBy:       auditCtx.Actor,
		CreatedAt:       s.now().UTC(),
	}
	created, err := s.repo.CreateImport(ctx, record)
	if err != nil {
		return domain.ModelImport{}, err
	}

	s.appendAudit(ctx, auditCtx, "model_import.create", created.ID, domain.Metadata{
		"name":        created.Name,
		"deploy_type": string(created.DeployType),
	})
	return created, nil
}

func (s *Service) Get(ctx context.Context, ref RecordRef) (domain.ModelImport, error) {
	if s == nil || s.repo == nil {
		return domain.ModelImport{}, errors.New("import service not initialized")
	}
	return s.resolve(ctx, ref)
}

func (s *Service) List(ctx context.Context, filter repo.ImportFilter) ([]domain.ModelImport, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("import service not initialized")
	}
	return s.repo.ListImports(ctx, filter)
}

// Transition moves a record to input.Target. The record is resolved, locked,
// re-read under the lock, validated against the transition table, run through
// the target's policy, its stage outputs stored, and finally committed with a
// guarded update. Stage outputs written for a commit that then loses the
// guard stay behind as unreferenced rows, which is acceptable: outputs are
// immutable and only the link in stage_output_refs decides visibility.
func (s *Service) Transition(ctx context.Context, ref RecordRef, input TransitionInput, auditCtx AuditContext) (domain.ModelImport, error) {
	if s == nil || s.repo == nil {
		return domain.ModelImport{}, errors.New("import service not initialized")
	}
	if !input.Target.Valid() {
		return domain.ModelImport{}, fmt.Errorf("%w: invalid target status %q", ErrInvalidInput, input.Target)
	}

	record, err := s.resolve(ctx, ref)
	if err != nil {
		return domain.ModelImport{}, err
	}

	unlock := s.locks.lock(record.ID)
	defer unlock()

	record, err = s.repo.GetImport(ctx, record.ID)
	if err != nil {
		return domain.ModelImport{}, err
	}
	if record.Deleted {
		return domain.ModelImport{}, repo.ErrNotFound
	}

	if err := domain.ValidateTransition(record.Status, input.Target); err != nil {
		return domain.ModelImport{}, fmt.Errorf("%w: %v", repo.ErrInvalidTransition, err)
	}

	policy, err := policyFor(input.Target)
	if err != nil {
		return domain.ModelImport{}, err
	}
	if err := policy.apply(ctx, record, &input); err != nil {
		return domain.ModelImport{}, fmt.Errorf("%w: policy %s: %v", ErrInvalidInput, policy.name(), err)
	}

	outputRefs := make(map[domain.StageType]string, len(input.Outputs))
	for _, content := range input.Outputs {
		output, err := s.reports.Save(ctx, record.ID, content.Stage, content.Content, reports.SaveMeta{
			ArtifactID: record.ArtifactID,
			RevisionID: record.RevisionID,
			CreatedBy:  auditCtx.Actor,
		})
		if err != nil {
			return domain.ModelImport{}, fmt.Errorf("save %s output: %w", content.Stage, err)
		}
		outputRefs[content.Stage] = output.ID
	}

	committed, err := s.repo.CommitTransition(ctx, repo.CommitTransitionParams{
		ID:         record.ID,
		From:       record.Status,
		To:         input.Target,
		SplitCount: input.SplitCount,
		OutputRefs: outputRefs,
		ArtifactID: input.ArtifactID,
		RevisionID: input.RevisionID,
		UpdatedBy:  auditCtx.Actor,
	})
	if err != nil {
		return domain.ModelImport{}, err
	}

	s.fanOutChanged(ctx, committed)
	s.appendAudit(ctx, auditCtx, "model_import.transition", committed.ID, domain.Metadata{
		"from": string(record.Status),
		"to":   string(committed.Status),
	})
	return committed, nil
}

// Delete logically removes a record. Cancellation of an in-flight scan job is
// best effort and never blocks the delete; self-hosted records are renamed so
// the name frees up immediately; serverless dependants are notified with the
// original name.
func (s *Service) Delete(ctx context.Context, ref RecordRef, auditCtx AuditContext) error {
	if s == nil || s.repo == nil {
		return errors.New("import service not initialized")
	}

	record, err := s.resolve(ctx, ref)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(record.ID)
	defer unlock()

	record, err = s.repo.GetImport(ctx, record.ID)
	if err != nil {
		return err
	}
	if record.Deleted {
		return repo.ErrNotFound
	}

	if record.Status == domain.StatusImportRequested && s.canceller != nil {
		if err := s.canceller.Cancel(ctx, record.ArtifactID, record.RevisionID); err != nil {
			s.logger.Warn("scan job cancellation failed",
				"import_id", record.ID,
				"artifact_id", record.ArtifactID,
				"error", err.Error(),
			)
		}
	}

	newName := record.Name
	if record.DeployType == domain.DeploySelfHosted {
		newName = domain.DeletedName(record.Name, record.ID)
	}
	if err := s.repo.MarkDeleted(ctx, record.ID, newName, auditCtx.Actor); err != nil {
		return err
	}

	if record.DeployType == domain.DeployServerless {
		if err := s.notifier.RecordDeleted(ctx, record.ID, record.Name); err != nil {
			s.logger.Warn("delete fan-out failed", "import_id", record.ID, "error", err.Error())
		}
	}

	s.appendAudit(ctx, auditCtx, "model_import.delete", record.ID, domain.Metadata{
		"name":        record.Name,
		"renamed_to":  newName,
		"deploy_type": string(record.DeployType),
		"last_status": string(record.Status),
	})
	return nil
}

// RecordStageOutput stores standalone stage text outside a status move, for
// late report re-delivery. The new output replaces the ref for its stage; the
// superseded output row stays behind.
func (s *Service) RecordStageOutput(ctx context.Context, ref RecordRef, stage domain.StageType, content string, auditCtx AuditContext) (domain.StageOutput, error) {
	if s == nil || s.repo == nil {
		return domain.StageOutput{}, errors.New("import service not initialized")
	}

	record, err := s.resolve(ctx, ref)
	if err != nil {
		return domain.StageOutput{}, err
	}

	unlock := s.locks.lock(record.ID)
	defer unlock()

	record, err = s.repo.GetImport(ctx, record.ID)
	if err != nil {
		return domain.StageOutput{}, err
	}
	if record.Deleted {
		return domain.StageOutput{}, repo.ErrNotFound
	}

	output, err := s.reports.Save(ctx, record.ID, stage, content, reports.SaveMeta{
		ArtifactID: record.ArtifactID,
		RevisionID: record.RevisionID,
		CreatedBy:  auditCtx.Actor,
	})
	if err != nil {
		return domain.StageOutput{}, err
	}
	if err := s.repo.LinkStageOutput(ctx, record.ID, stage, output.ID, auditCtx.Actor); err != nil {
		return domain.StageOutput{}, err
	}

	s.fanOutChanged(ctx, record)
	s.appendAudit(ctx, auditCtx, "model_import.stage_output", record.ID, domain.Metadata{
		"stage":     string(stage),
		"output_id": output.ID,
	})
	return output, nil
}

func (s *Service) resolve(ctx context.Context, ref RecordRef) (domain.ModelImport, error) {
	switch {
	case ref.ID > 0:
		return s.repo.GetImport(ctx, ref.ID)
	case strings.TrimSpace(ref.Name) != "":
		return s.repo.GetImportByName(ctx, strings.TrimSpace(ref.Name))
	case strings.TrimSpace(ref.ArtifactID) != "":
		return s.repo.GetImportByArtifact(ctx, strings.TrimSpace(ref.ArtifactID))
	default:
		return domain.ModelImport{}, repo.ErrNotFound
	}
}

// fanOutChanged notifies dependants of serverless records after a committed
// change. Delivery problems are logged, never returned: the commit already
// happened.
func (s *Service) fanOutChanged(ctx context.Context, record domain.ModelImport) {
	if record.DeployType != domain.DeployServerless {
		return
	}
	if err := s.notifier.RecordChanged(ctx, record); err != nil {
		s.logger.Warn("change fan-out failed", "import_id", record.ID, "error", err.Error())
	}
}

func (s *Service) appendAudit(ctx context.Context, auditCtx AuditContext, action string, importID int64, payload domain.Metadata) {
	if s.audit == nil {
		return
	}
	if payload == nil {
		payload = domain.Metadata{}
	}
	if auditCtx.Service != "" {
		payload["service"] = auditCtx.Service
	}
	if auditCtx.Path != "" {
		payload["path"] = auditCtx.Path
	}
	actor := strings.TrimSpace(auditCtx.Actor)
	if actor == "" {
		actor = "system"
	}
	_, _ = s.audit.Append(ctx, domain.AuditEvent{
		OccurredAt:   s.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "model_import",
		ResourceID:   fmt.Sprintf("%d", importID),
		RequestID:    auditCtx.RequestID,
		IP:           auditCtx.IP,
		UserAgent:    auditCtx.UserAgent,
		Payload:      payload,
	})
}
