package imports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/animus-labs/modelimport/internal/domain"
	"github.com/animus-labs/modelimport/internal/repo"
	"github.com/animus-labs/modelimport/internal/service/reports"
)

type fakeImportRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]domain.ModelImport
}

func newFakeImportRepo() *fakeImportRepo {
	return &fakeImportRepo{nextID: 1, records: map[int64]domain.ModelImport{}}
}

func (f *fakeImportRepo) CreateImport(ctx context.Context, record domain.ModelImport) (domain.ModelImport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.records {
		if !existing.Deleted && existing.Name == record.Name {
			return domain.ModelImport{}, repo.ErrDuplicateName
		}
	}
	record.ID = f.nextID
	f.nextID++
	if record.StageOutputRefs == nil {
		record.StageOutputRefs = map[domain.StageType]string{}
	}
	f.records[record.ID] = record
	return record, nil
}

func (f *fakeImportRepo) GetImport(ctx context.Context, id int64) (domain.ModelImport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return domain.ModelImport{}, repo.ErrNotFound
	}
	return cloneRecord(record), nil
}

func (f *fakeImportRepo) GetImportByName(ctx context.Context, name string) (domain.ModelImport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if !record.Deleted && record.Name == name {
			return cloneRecord(record), nil
		}
	}
	return domain.ModelImport{}, repo.ErrNotFound
}

func (f *fakeImportRepo) GetImportByArtifact(ctx context.Context, artifactID string) (domain.ModelImport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if !record.Deleted && record.ArtifactID == artifactID {
			return cloneRecord(record), nil
		}
	}
	return domain.ModelImport{}, repo.ErrNotFound
}

func (f *fakeImportRepo) ListImports(ctx context.Context, filter repo.ImportFilter) ([]domain.ModelImport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ModelImport
	for _, record := range f.records {
		if !filter.Deleted && record.Deleted {
			continue
		}
		if filter.Group != "" && record.Group() != filter.Group {
			continue
		}
		if filter.DeployType != "" && record.DeployType != filter.DeployType {
			continue
		}
		out = append(out, cloneRecord(record))
	}
	return out, nil
}

func (f *fakeImportRepo) CommitTransition(ctx context.Context, params repo.CommitTransitionParams) (domain.ModelImport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[params.ID]
	if !ok || record.Deleted || record.Status != params.From {
		return domain.ModelImport{}, repo.ErrInvalidTransition
	}
	record.Status = params.To
	if params.SplitCount != nil {
		record.FileSplitCount = *params.SplitCount
	}
	for stage, id := range params.OutputRefs {
		record.StageOutputRefs[stage] = id
	}
	if params.ArtifactID != "" {
		record.ArtifactID = params.ArtifactID
	}
	if params.RevisionID != "" {
		record.RevisionID = params.RevisionID
	}
	record.UpdatedBy = params.UpdatedBy
	f.records[params.ID] = record
	return cloneRecord(record), nil
}

func (f *fakeImportRepo) LinkStageOutput(ctx context.Context, importID int64, stage domain.StageType, outputID string, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[importID]
	if !ok {
		return repo.ErrNotFound
	}
	record.StageOutputRefs[stage] = outputID
	record.UpdatedBy = updatedBy
	f.records[importID] = record
	return nil
}

func (f *fakeImportRepo) MarkDeleted(ctx context.Context, id int64, newName string, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok || record.Deleted {
		return repo.ErrNotFound
	}
	record.Deleted = true
	record.Name = newName
	record.UpdatedBy = updatedBy
	f.records[id] = record
	return nil
}

func cloneRecord(record domain.ModelImport) domain.ModelImport {
	refs := make(map[domain.StageType]string, len(record.StageOutputRefs))
	for k, v := range record.StageOutputRefs {
		refs[k] = v
	}
	record.StageOutputRefs = refs
	return record
}

type savedReport struct {
	ImportID int64
	Stage    domain.StageType
	Content  string
}

type fakeReports struct {
	mu     sync.Mutex
	saved  []savedReport
	nextID int
}

func (f *fakeReports) Save(ctx context.Context, importID int64, stage domain.StageType, content string, meta reports.SaveMeta) (domain.StageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.saved = append(f.saved, savedReport{ImportID: importID, Stage: stage, Content: content})
	return domain.StageOutput{
		ID:        fmt.Sprintf("output-%d", f.nextID),
		ImportID:  importID,
		Stage:     stage,
		ObjectKey: fmt.Sprintf("imports/%d/%s/output-%d.txt", importID, stage, f.nextID),
		Size:      int64(len(content)),
	}, nil
}

type notification struct {
	Kind     domain.EventKind
	ImportID int64
	Name     string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) RecordChanged(ctx context.Context, record domain.ModelImport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{Kind: domain.EventInfoChanged, ImportID: record.ID, Name: record.Name})
	return nil
}

func (f *fakeNotifier) RecordDeleted(ctx context.Context, importID int64, originalName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{Kind: domain.EventDeleted, ImportID: importID, Name: originalName})
	return nil
}

type fakeCanceller struct {
	mu     sync.Mutex
	calls  []string
	failed error
}

func (f *fakeCanceller) Cancel(ctx context.Context, artifactID, revisionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, artifactID+"/"+revisionID)
	return f.failed
}

type testEnv struct {
	svc       *Service
	repo      *fakeImportRepo
	reports   *fakeReports
	notifier  *fakeNotifier
	canceller *fakeCanceller
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	importRepo := newFakeImportRepo()
	reportStore := &fakeReports{}
	notifier := &fakeNotifier{}
	canceller := &fakeCanceller{}
	svc, err := NewService(importRepo, reportStore, notifier, canceller, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	return testEnv{svc: svc, repo: importRepo, reports: reportStore, notifier: notifier, canceller: canceller}
}

func TestCreateRejectsDuplicateActiveName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Create(ctx, CreateInput{Name: "llama-8b", DeployType: domain.DeploySelfHosted}, AuditContext{Actor: "alice"})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	if first.Group() != domain.GroupBefore {
		t.Fatalf("new record group=%q, want before", first.Group())
	}

	_, err = env.svc.Create(ctx, CreateInput{Name: "llama-8b", DeployType: domain.DeployServerless}, AuditContext{Actor: "bob"})
	if !errors.Is(err, repo.ErrDuplicateName) {
		t.Fatalf("err=%v, want ErrDuplicateName", err)
	}
}

func TestNameReusableAfterSelfHostedDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.svc.Create(ctx, CreateInput{Name: "llama-8b", DeployType: domain.DeploySelfHosted}, AuditContext{Actor: "alice"})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	if err := env.svc.Delete(ctx, RecordRef{ID: record.ID}, AuditContext{Actor: "alice"}); err != nil {
		t.Fatalf("Delete() err=%v", err)
	}

	stored, err := env.repo.GetImport(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetImport() err=%v", err)
	}
	if stored.Name != domain.DeletedName("llama-8b", record.ID) {
		t.Fatalf("stored name=%q, want rename with id suffix", stored.Name)
	}

	if _, err := env.svc.Create(ctx, CreateInput{Name: "llama-8b", DeployType: domain.DeploySelfHosted}, AuditContext{Actor: "alice"}); err != nil {
		t.Fatalf("expected original name to be reusable, err=%v", err)
	}
}

func TestDeleteServerlessKeepsNameAndFansOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.svc.Create(ctx, CreateInput{Name: "gpt-x", DeployType: domain.DeployServerless}, AuditContext{Actor: "alice"})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	if err := env.svc.Delete(ctx, RecordRef{ID: record.ID}, AuditContext{Actor: "alice"}); err != nil {
		t.Fatalf("Delete() err=%v", err)
	}

	stored, _ := env.repo.GetImport(ctx, record.ID)
	if stored.Name != "gpt-x" {
		t.Fatalf("serverless delete must not rename, got %q", stored.Name)
	}

	var deleted []notification
	for _, n := range env.notifier.sent {
		if n.Kind == domain.EventDeleted {
			deleted = append(deleted, n)
		}
	}
	if len(deleted) != 1 || deleted[0].Name != "gpt-x" {
		t.Fatalf("deleted notifications=%v, want one with original name", deleted)
	}
}

func TestDeleteCancelsInFlightScanJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, _ := env.svc.Create(ctx, CreateInput{Name: "llama-8b", DeployType: domain.DeploySelfHosted}, AuditContext{Actor: "alice"})
	_, err := env.svc.Transition(ctx, RecordRef{ID: record.ID}, TransitionInput{
		Target:     domain.StatusImportRequested,
		ArtifactID: "artifact-1",
		RevisionID: "rev-1",
	}, AuditContext{Actor: "alice"})
	if err != nil {
		t.Fatalf("Transition() err=%v", err)
	}

	env.canceller.failed = errors.New("orchestrator down")
	if err := env.svc.Delete(ctx, RecordRef{ID: record.ID}, AuditContext{Actor: "alice"}); err != nil {
		t.Fatalf("Delete() must succeed despite cancellation failure, err=%v", err)
	}
	if len(env.canceller.calls) != 1 || env.canceller.calls[0] != "artifact-1/rev-1" {
		t.Fatalf("cancel calls=%v", env.canceller.calls)
	}
}

func TestFailedRecordRejectsLateCallbacks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, _ := env.svc.Create(ctx, CreateInput{Name: "llama-8b", DeployType: domain.DeploySelfHosted}, AuditContext{Actor: "alice"})

	failed, err := env.svc.Transition(ctx, RecordRef{ID: record.ID}, TransitionInput{
		Target:  domain.StatusImportFailed,
		Outputs: []StageContent{{Stage: domain.StageImportReport, Content: "file was not received"}},
	}, AuditContext{Actor: "webhook"})
	if err != nil {
		t.Fatalf("fail transition err=%v", err)
	}
	if failed.Status != domain.StatusImportFailed {
		t.Fatalf("status=%q", failed.Status)
	}

	_, err = env.svc.Transition(ctx, RecordRef{ID: record.ID}, TransitionInput{
		Target: domain.StatusVaccineScanCompleted,
	}, AuditContext{Actor: "webhook"})
	if !errors.Is(err, repo.ErrInvalidTransition) {
		t.Fatalf("err=%v, want ErrInvalidTransition for late callback", err)
	}

	stored, _ := env.repo.GetImport(ctx, record.ID)
	if stored.Status != domain.StatusImportFailed {
		t.Fatalf("late callback regressed status to %q", stored.Status)
	}
}

func TestVaccineScanStoresSplitCountAndReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, _ := env.svc.Create(ctx, CreateInput{Name: "gpt-x", DeployType: domain.DeployServerless}, AuditContext{Actor: "alice"})
	if _, err := env.svc.Transition(ctx, RecordRef{ID: record.ID}, TransitionInput{Target: domain.StatusFileImportCompleted}, AuditContext{Actor: "webhook"}); err != nil {
		t.Fatalf("file import transition err=%v", err)
	}

	split := 3
	updated, err := env.svc.Transition(ctx, RecordRef{ID: record.ID}, TransitionInput{
		Target:     domain.StatusVaccineScanCompleted,
		SplitCount: &split,
		Outputs: []StageContent{{
			Stage:   domain.StageVaccineScanReport,
			Content: `{"success":true,"message":"clean"}`,
		}},
	}, AuditContext{Actor: "webhook"})
	if err != nil {
		t.Fatalf("vaccine transition err=%v", err)
	}
	if updated.FileSplitCount != 3 {
		t.Fatalf("FileSplitCount=%d, want 3", updated.FileSplitCount)
	}
	if updated.StageOutputRefs[domain.StageVaccineScanReport] == "" {
		t.Fatalf("missing vaccine scan report ref")
	}
	if len(env.reports.saved) != 1 || !strings.Contains(env.reports.saved[0].Content, `"success":true`) {
		t.Fatalf("saved reports=%v", env.reports.saved)
	}
}

func TestTransitionByNameAndArtifactLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, _ := env.svc.Create(ctx, CreateInput{Name: "gpt-x", DeployType: domain.DeployServerless}, AuditContext{Actor: "alice"})
	if _, err := env.svc.Transition(ctx, RecordRef{Name: "gpt-x"}, TransitionInput{
		Target:     domain.StatusImportRequested,
		ArtifactID: "artifact-9",
		RevisionID: "rev-1",
	}, AuditContext{Actor: "alice"}); err != nil {
		t.Fatalf("transition by name err=%v", err)
	}

	updated, err := env.svc.Transition(ctx, RecordRef{ArtifactID: "artifact-9"}, TransitionInput{Target: domain.StatusFileImportCompleted}, AuditContext{Actor: "webhook"})
	if err != nil {
		t.Fatalf("transition by artifact err=%v", err)
	}
	if updated.ID != record.ID {
		t.Fatalf("resolved wrong record: %d", updated.ID)
	}
}

func TestTransitionUnknownRecord(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Transition(context.Background(), RecordRef{Name: "model/a/v1"}, TransitionInput{Target: domain.StatusInternalNetworkImportCompleted}, AuditContext{})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestServerlessTransitionFansOutChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, _ := env.svc.Create(ctx, CreateInput{Name: "gpt-x", DeployType: domain.DeployServerless}, AuditContext{Actor: "alice"})
	if _, err := env.svc.Transition(ctx, RecordRef{ID: record.ID}, TransitionInput{Target: domain.StatusFileImportCompleted}, AuditContext{Actor: "webhook"}); err != nil {
		t.Fatalf("Transition() err=%v", err)
	}
	if len(env.notifier.sent) != 1 || env.notifier.sent[0].Kind != domain.EventInfoChanged {
		t.Fatalf("notifications=%v, want one info_changed", env.notifier.sent)
	}

	selfHosted, _ := env.svc.Create(ctx, CreateInput{Name: "llama-8b", DeployType: domain.DeploySelfHosted}, AuditContext{Actor: "alice"})
	if _, err := env.svc.Transition(ctx, RecordRef{ID: selfHosted.ID}, TransitionInput{Target: domain.StatusFileImportCompleted}, AuditContext{Actor: "webhook"}); err != nil {
		t.Fatalf("Transition() err=%v", err)
	}
	if len(env.notifier.sent) != 1 {
		t.Fatalf("self-hosted change must not fan out, got %v", env.notifier.sent)
	}
}

func TestConcurrentCallbacksSameRecordSerialized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, _ := env.svc.Create(ctx, CreateInput{Name: "gpt-x", DeployType: domain.DeployServerless}, AuditContext{Actor: "alice"})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Transition(ctx, RecordRef{ID: record.ID}, TransitionInput{Target: domain.StatusFileImportCompleted}, AuditContext{Actor: "webhook"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, repo.ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// first delivery moves the record, redeliveries of the now-current
	// status are also accepted, and none may corrupt state
	stored, _ := env.repo.GetImport(ctx, record.ID)
	if stored.Status != domain.StatusFileImportCompleted {
		t.Fatalf("status=%q", stored.Status)
	}
	if succeeded == 0 {
		t.Fatalf("no callback succeeded")
	}
}

func TestPolicyTableCoversEveryStatus(t *testing.T) {
	statuses := []domain.ImportStatus{
		domain.StatusCreated,
		domain.StatusImportRequested,
		domain.StatusFileImportCompleted,
		domain.StatusVaccineScanCompleted,
		domain.StatusVulnerabilityCheckCompleted,
		domain.StatusInternalNetworkImportCompleted,
		domain.StatusImportFailed,
	}
	for _, status := range statuses {
		if _, err := policyFor(status); err != nil {
			t.Fatalf("policyFor(%s) err=%v", status, err)
		}
	}
	if _, err := policyFor("limbo"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestRequestImportRequiresArtifact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, _ := env.svc.Create(ctx, CreateInput{Name: "gpt-x", DeployType: domain.DeployServerless}, AuditContext{Actor: "alice"})
	_, err := env.svc.Transition(ctx, RecordRef{ID: record.ID}, TransitionInput{Target: domain.StatusImportRequested}, AuditContext{Actor: "alice"})
	if err == nil || !strings.Contains(err.Error(), "artifact id is required") {
		t.Fatalf("err=%v, want artifact requirement", err)
	}
}

func TestRecordLocksReleaseEntries(t *testing.T) {
	locks := newRecordLocks()
	unlock := locks.lock(7)
	unlock()
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entries) != 0 {
		t.Fatalf("entries=%d, want drained map", len(locks.entries))
	}
}

func TestRecordStageOutputReplacesRefAndKeepsOldRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.svc.Create(ctx, CreateInput{Name: "gpt-x", DeployType: domain.DeployServerless}, AuditContext{Actor: "alice"})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}

	first, err := env.svc.RecordStageOutput(ctx, RecordRef{ID: record.ID}, domain.StageImportReport, "first delivery", AuditContext{Actor: "webhook"})
	if err != nil {
		t.Fatalf("RecordStageOutput() err=%v", err)
	}
	second, err := env.svc.RecordStageOutput(ctx, RecordRef{ID: record.ID}, domain.StageImportReport, "second delivery", AuditContext{Actor: "webhook"})
	if err != nil {
		t.Fatalf("RecordStageOutput() err=%v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("re-delivery must mint a new output, got %q twice", first.ID)
	}

	got, err := env.svc.Get(ctx, RecordRef{ID: record.ID})
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if got.StageOutputRefs[domain.StageImportReport] != second.ID {
		t.Fatalf("stage ref=%q, want %q", got.StageOutputRefs[domain.StageImportReport], second.ID)
	}
	if len(env.reports.saved) != 2 {
		t.Fatalf("saved outputs=%d, want superseded row retained", len(env.reports.saved))
	}
	if env.reports.saved[0].Content != "first delivery" {
		t.Fatalf("first output=%q", env.reports.saved[0].Content)
	}
}

func TestRecordStageOutputRejectsDeletedRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.svc.Create(ctx, CreateInput{Name: "llama-8b", DeployType: domain.DeploySelfHosted}, AuditContext{Actor: "alice"})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	if err := env.svc.Delete(ctx, RecordRef{ID: record.ID}, AuditContext{Actor: "alice"}); err != nil {
		t.Fatalf("Delete() err=%v", err)
	}

	_, err = env.svc.RecordStageOutput(ctx, RecordRef{ID: record.ID}, domain.StageImportReport, "late delivery", AuditContext{Actor: "webhook"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound for deleted record", err)
	}
	if len(env.reports.saved) != 0 {
		t.Fatalf("saved outputs=%d, want none for deleted record", len(env.reports.saved))
	}
}
