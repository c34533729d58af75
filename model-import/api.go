package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/modelimport/internal/domain"
	"github.com/animus-labs/modelimport/internal/ingest"
	"github.com/animus-labs/modelimport/internal/platform/auth"
	"github.com/animus-labs/modelimport/internal/platform/httpserver"
	"github.com/animus-labs/modelimport/internal/repo"
	"github.com/animus-labs/modelimport/internal/service/imports"
	"github.com/animus-labs/modelimport/internal/service/reports"
)

type modelImportAPI struct {
	logger   *slog.Logger
	service  *imports.Service
	reports  *reports.Store
	ingestor *ingest.Ingestor
}

func newModelImportAPI(logger *slog.Logger, service *imports.Service, reportStore *reports.Store, ingestor *ingest.Ingestor) *modelImportAPI {
	return &modelImportAPI{
		logger:   logger,
		service:  service,
		reports:  reportStore,
		ingestor: ingestor,
	}
}

func (api *modelImportAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /imports", api.handleCreate)
	mux.HandleFunc("GET /imports", api.handleList)
	mux.HandleFunc("GET /imports/{import_id}", api.handleGet)
	mux.HandleFunc("DELETE /imports/{import_id}", api.handleDelete)
	mux.HandleFunc("POST /imports/{import_id}/request", api.handleRequestImport)
	mux.HandleFunc("GET /imports/{import_id}/reports", api.handleListReports)
	mux.HandleFunc("GET /imports/{import_id}/reports/{stage}", api.handleReportContent)
	mux.HandleFunc("POST /imports/{import_id}/reports/{stage}", api.handleRecordReport)

	mux.HandleFunc("POST /callbacks/file-import", api.handleFileImportCallback)
	mux.HandleFunc("POST /callbacks/vaccine-scan", api.handleVaccineScanCallback)
	mux.HandleFunc("POST /callbacks/vulnerability-check", api.handleVulnerabilityCheckCallback)
	mux.HandleFunc("POST /callbacks/internal-network-import", api.handleInternalNetworkCallback)
}

type modelImportView struct {
	ImportID       int64             `json:"import_id"`
	Name           string            `json:"name"`
	DeployType     string            `json:"deploy_type"`
	Status         string            `json:"status"`
	StatusGroup    string            `json:"status_group"`
	ArtifactID     string            `json:"artifact_id,omitempty"`
	RevisionID     string            `json:"revision_id,omitempty"`
	FileSplitCount int               `json:"file_split_count"`
	StageOutputs   map[string]string `json:"stage_outputs,omitempty"`
	Metadata       domain.Metadata   `json:"metadata,omitempty"`
	Deleted        bool              `json:"deleted"`
	CreatedBy      string            `json:"created_by,omitempty"`
	UpdatedBy      string            `json:"updated_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func viewOf(record domain.ModelImport) modelImportView {
	view := modelImportView{
		ImportID:       record.ID,
		Name:           record.Name,
		DeployType:     string(record.DeployType),
		Status:         string(record.Status),
		StatusGroup:    string(record.Group()),
		ArtifactID:     record.ArtifactID,
		RevisionID:     record.RevisionID,
		FileSplitCount: record.FileSplitCount,
		Metadata:       record.Metadata,
		Deleted:        record.Deleted,
		CreatedBy:      record.CreatedBy,
		UpdatedBy:      record.UpdatedBy,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
	if len(record.StageOutputRefs) > 0 {
		view.StageOutputs = make(map[string]string, len(record.StageOutputRefs))
		for stage, outputID := range record.StageOutputRefs {
			view.StageOutputs[string(stage)] = outputID
		}
	}
	return view
}

type stageOutputView struct {
	OutputID      string    `json:"output_id"`
	ImportID      int64     `json:"import_id"`
	Stage         string    `json:"stage"`
	Size          int64     `json:"size"`
	TruncatedFrom int64     `json:"truncated_from,omitempty"`
	ArtifactID    string    `json:"artifact_id,omitempty"`
	RevisionID    string    `json:"revision_id,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func stageViewOf(output domain.StageOutput) stageOutputView {
	return stageOutputView{
		OutputID:      output.ID,
		ImportID:      output.ImportID,
		Stage:         string(output.Stage),
		Size:          output.Size,
		TruncatedFrom: output.TruncatedFrom,
		ArtifactID:    output.ArtifactID,
		RevisionID:    output.RevisionID,
		CreatedBy:     output.CreatedBy,
		CreatedAt:     output.CreatedAt,
	}
}

func (api *modelImportAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string          `json:"name"`
		DeployType string          `json:"deploy_type"`
		Metadata   domain.Metadata `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	record, err := api.service.Create(r.Context(), imports.CreateInput{
		Name:       req.Name,
		DeployType: domain.DeployType(strings.TrimSpace(req.DeployType)),
		Metadata:   req.Metadata,
	}, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, viewOf(record))
}

func (api *modelImportAPI) handleList(w http.ResponseWriter, r *http.Request) {
	filter := repo.ImportFilter{
		Name:       strings.TrimSpace(r.URL.Query().Get("name")),
		DeployType: domain.DeployType(strings.TrimSpace(r.URL.Query().Get("deploy_type"))),
		Limit:      clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}
	if group := strings.TrimSpace(r.URL.Query().Get("group")); group != "" {
		filter.Group = domain.StatusGroup(group)
		if !filter.Group.Valid() {
			api.writeError(w, r, http.StatusBadRequest, "invalid_group")
			return
		}
	}
	if filter.DeployType != "" && !filter.DeployType.Valid() {
		api.writeError(w, r, http.StatusBadRequest, "invalid_deploy_type")
		return
	}
	if deleted := strings.TrimSpace(r.URL.Query().Get("deleted")); deleted != "" {
		parsed, err := strconv.ParseBool(deleted)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_deleted")
			return
		}
		filter.Deleted = parsed
	}

	records, err := api.service.List(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	views := make([]modelImportView, 0, len(records))
	for _, record := range records {
		views = append(views, viewOf(record))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"imports": views})
}

func (api *modelImportAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	ref, ok := api.pathRef(w, r)
	if !ok {
		return
	}
	record, err := api.service.Get(r.Context(), ref)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewOf(record))
}

func (api *modelImportAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	ref, ok := api.pathRef(w, r)
	if !ok {
		return
	}
	if err := api.service.Delete(r.Context(), ref, api.auditContext(r)); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *modelImportAPI) handleRequestImport(w http.ResponseWriter, r *http.Request) {
	ref, ok := api.pathRef(w, r)
	if !ok {
		return
	}
	var req struct {
		ArtifactID string `json:"artifact_id"`
		RevisionID string `json:"revision_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	record, err := api.service.Transition(r.Context(), ref, imports.TransitionInput{
		Target:     domain.StatusImportRequested,
		ArtifactID: strings.TrimSpace(req.ArtifactID),
		RevisionID: strings.TrimSpace(req.RevisionID),
	}, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewOf(record))
}

func (api *modelImportAPI) handleListReports(w http.ResponseWriter, r *http.Request) {
	ref, ok := api.pathRef(w, r)
	if !ok {
		return
	}
	record, err := api.service.Get(r.Context(), ref)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	outputs, err := api.reports.List(r.Context(), record.ID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	views := make([]stageOutputView, 0, len(outputs))
	for _, output := range outputs {
		views = append(views, stageViewOf(output))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"reports": views})
}

func (api *modelImportAPI) handleReportContent(w http.ResponseWriter, r *http.Request) {
	ref, ok := api.pathRef(w, r)
	if !ok {
		return
	}
	stage := domain.StageType(strings.TrimSpace(r.PathValue("stage")))
	if !stage.Valid() {
		api.writeError(w, r, http.StatusBadRequest, "invalid_stage")
		return
	}

	record, err := api.service.Get(r.Context(), ref)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	outputID, ok := record.StageOutputRefs[stage]
	if !ok {
		api.writeError(w, r, http.StatusNotFound, "report_not_found")
		return
	}

	content, output, err := api.reports.Content(r.Context(), outputID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	defer func() { _ = content.Close() }()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if output.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(output.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content); err != nil {
		api.logger.Warn("report stream interrupted", "output_id", outputID, "error", err)
	}
}

func (api *modelImportAPI) handleRecordReport(w http.ResponseWriter, r *http.Request) {
	ref, ok := api.pathRef(w, r)
	if !ok {
		return
	}
	stage := domain.StageType(strings.TrimSpace(r.PathValue("stage")))
	if !stage.Valid() {
		api.writeError(w, r, http.StatusBadRequest, "invalid_stage")
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	output, err := api.service.RecordStageOutput(r.Context(), ref, stage, req.Content, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, stageViewOf(output))
}

type callbackRequest struct {
	Name       string `json:"name"`
	ArtifactID string `json:"artifact_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	SplitCount *int   `json:"split_count"`
	Report     string `json:"report"`
	Summary    string `json:"summary"`
	RawMessage string `json:"raw_message"`
}

func (api *modelImportAPI) handleFileImportCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	record, err := api.ingestor.FileImport(r.Context(), ingest.FileImportCallback{
		Name:       req.Name,
		ArtifactID: req.ArtifactID,
		Success:    req.Success,
		Message:    req.Message,
	}, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewOf(record))
}

func (api *modelImportAPI) handleVaccineScanCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	record, err := api.ingestor.VaccineScan(r.Context(), ingest.VaccineScanCallback{
		Name:       req.Name,
		ArtifactID: req.ArtifactID,
		Success:    req.Success,
		Message:    req.Message,
		SplitCount: req.SplitCount,
	}, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewOf(record))
}

func (api *modelImportAPI) handleVulnerabilityCheckCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	record, err := api.ingestor.VulnerabilityCheck(r.Context(), ingest.VulnerabilityCheckCallback{
		Name:       req.Name,
		ArtifactID: req.ArtifactID,
		Success:    req.Success,
		Message:    req.Message,
		Report:     req.Report,
		Summary:    req.Summary,
	}, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewOf(record))
}

func (api *modelImportAPI) handleInternalNetworkCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	record, err := api.ingestor.InternalNetworkImport(r.Context(), ingest.InternalNetworkCallback{
		Name:       req.Name,
		RawMessage: req.RawMessage,
	}, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewOf(record))
}

func (api *modelImportAPI) pathRef(w http.ResponseWriter, r *http.Request) (imports.RecordRef, bool) {
	raw := strings.TrimSpace(r.PathValue("import_id"))
	if raw == "" {
		api.writeError(w, r, http.StatusBadRequest, "import_id_required")
		return imports.RecordRef{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_import_id")
		return imports.RecordRef{}, false
	}
	return imports.RecordRef{ID: id}, true
}

func (api *modelImportAPI) auditContext(r *http.Request) imports.AuditContext {
	auditCtx := imports.AuditContext{
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Service:   "model-import",
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		auditCtx.Actor = identity.Subject
	}
	if requestID, ok := httpserver.RequestIDFromContext(r.Context()); ok {
		auditCtx.RequestID = requestID
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		auditCtx.IP = net.ParseIP(host)
	} else {
		auditCtx.IP = net.ParseIP(strings.TrimSpace(r.RemoteAddr))
	}
	return auditCtx
}

func (api *modelImportAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrDuplicateName):
		api.writeError(w, r, http.StatusConflict, "name_conflict")
	case errors.Is(err, repo.ErrInvalidTransition):
		api.writeError(w, r, http.StatusConflict, "invalid_transition")
	case errors.Is(err, imports.ErrInvalidInput):
		api.writeError(w, r, http.StatusBadRequest, "invalid_request")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *modelImportAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *modelImportAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
