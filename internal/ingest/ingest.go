package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/modelimport/internal/domain"
	"github.com/animus-labs/modelimport/internal/service/imports"
)

// Pipeline is the slice of the import service the ingestors drive.
type Pipeline interface {
	Transition(ctx context.Context, ref imports.RecordRef, input imports.TransitionInput, auditCtx imports.AuditContext) (domain.ModelImport, error)
}

// Envelope is the serialized form stored as a stage report for channels that
// deliver an explicit success flag.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type FileImportCallback struct {
	Name       string
	ArtifactID string
	Success    bool
	Message    string
}

type VaccineScanCallback struct {
	Name       string
	ArtifactID string
	Success    bool
	Message    string
	SplitCount *int
}

type VulnerabilityCheckCallback struct {
	Name       string
	ArtifactID string
	Success    bool
	Message    string
	Report     string
	Summary    string
}

type InternalNetworkCallback struct {
	Name       string
	RawMessage string
}

// Ingestor normalizes channel payloads into pipeline transitions.
type Ingestor struct {
	pipeline Pipeline
	rules    Rules
	logger   *slog.Logger
}

func NewIngestor(pipeline Pipeline, rules Rules, logger *slog.Logger) (*Ingestor, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if len(rules.FailurePhrases) == 0 && len(rules.ArchiveExtensions) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{pipeline: pipeline, rules: rules, logger: logger}, nil
}

// FileImport handles the file transfer channel.
func (i *Ingestor) FileImport(ctx context.Context, callback FileImportCallback, auditCtx imports.AuditContext) (domain.ModelImport, error) {
	if i == nil || i.pipeline == nil {
		return domain.ModelImport{}, errors.New("ingestor not initialized")
	}

	target := domain.StatusFileImportCompleted
	if !callback.Success {
		target = domain.StatusImportFailed
	}
	report, err := envelopeJSON(callback.Success, callback.Message)
	if err != nil {
		return domain.ModelImport{}, err
	}

	return i.pipeline.Transition(ctx, refFor(callback.Name, callback.ArtifactID), imports.TransitionInput{
		Target:  target,
		Outputs: []imports.StageContent{{Stage: domain.StageImportReport, Content: report}},
	}, auditCtx)
}

// VaccineScan handles the malware scan channel and carries the split-file
// count produced when the artifact was chunked for scanning.
func (i *Ingestor) VaccineScan(ctx context.Context, callback VaccineScanCallback, auditCtx imports.AuditContext) (domain.ModelImport, error) {
	if i == nil || i.pipeline == nil {
		return domain.ModelImport{}, errors.New("ingestor not initialized")
	}

	target := domain.StatusVaccineScanCompleted
	if !callback.Success {
		target = domain.StatusImportFailed
	}
	report, err := envelopeJSON(callback.Success, callback.Message)
	if err != nil {
		return domain.ModelImport{}, err
	}

	input := imports.TransitionInput{
		Target:  target,
		Outputs: []imports.StageContent{{Stage: domain.StageVaccineScanReport, Content: report}},
	}
	if callback.Success {
		input.SplitCount = callback.SplitCount
	}
	return i.pipeline.Transition(ctx, refFor(callback.Name, callback.ArtifactID), input, auditCtx)
}

// VulnerabilityCheck handles the CVE scan channel. The channel ships a full
// report and a short summary; both are stored as separate stage outputs.
func (i *Ingestor) VulnerabilityCheck(ctx context.Context, callback VulnerabilityCheckCallback, auditCtx imports.AuditContext) (domain.ModelImport, error) {
	if i == nil || i.pipeline == nil {
		return domain.ModelImport{}, errors.New("ingestor not initialized")
	}

	target := domain.StatusVulnerabilityCheckCompleted
	if !callback.Success {
		target = domain.StatusImportFailed
	}

	outputs := make([]imports.StageContent, 0, 2)
	if strings.TrimSpace(callback.Report) != "" {
		outputs = append(outputs, imports.StageContent{Stage: domain.StageVulnerabilityReport, Content: callback.Report})
	}
	if strings.TrimSpace(callback.Summary) != "" {
		outputs = append(outputs, imports.StageContent{Stage: domain.StageVulnerabilitySummary, Content: callback.Summary})
	}
	if len(outputs) == 0 {
		report, err := envelopeJSON(callback.Success, callback.Message)
		if err != nil {
			return domain.ModelImport{}, err
		}
		outputs = append(outputs, imports.StageContent{Stage: domain.StageVulnerabilityReport, Content: report})
	}

	return i.pipeline.Transition(ctx, refFor(callback.Name, callback.ArtifactID), imports.TransitionInput{
		Target:  target,
		Outputs: outputs,
	}, auditCtx)
}

// InternalNetworkImport handles the channel that reports through a single
// compound string. Success is sniffed from the wording and the target record
// may only be named inside that string.
func (i *Ingestor) InternalNetworkImport(ctx context.Context, callback InternalNetworkCallback, auditCtx imports.AuditContext) (domain.ModelImport, error) {
	if i == nil || i.pipeline == nil {
		return domain.ModelImport{}, errors.New("ingestor not initialized")
	}

	parsed := ParseCompoundMessage(callback.RawMessage, i.rules.ArchiveExtensions)
	name := strings.TrimSpace(callback.Name)
	if name == "" {
		name = parsed.DerivedName
	}
	if name == "" {
		return domain.ModelImport{}, fmt.Errorf("%w: internal network callback names no record: %q", imports.ErrInvalidInput, callback.RawMessage)
	}

	success := !i.rules.IsFailureMessage(parsed.Message)
	target := domain.StatusInternalNetworkImportCompleted
	if !success {
		target = domain.StatusImportFailed
	}
	report, err := envelopeJSON(success, parsed.Message)
	if err != nil {
		return domain.ModelImport{}, err
	}

	return i.pipeline.Transition(ctx, imports.RecordRef{Name: name}, imports.TransitionInput{
		Target:  target,
		Outputs: []imports.StageContent{{Stage: domain.StageImportReport, Content: report}},
	}, auditCtx)
}

func refFor(name string, artifactID string) imports.RecordRef {
	ref := imports.RecordRef{Name: strings.TrimSpace(name)}
	if ref.Name == "" {
		ref.ArtifactID = strings.TrimSpace(artifactID)
	}
	return ref
}

func envelopeJSON(success bool, message string) (string, error) {
	raw, err := json.Marshal(Envelope{Success: success, Message: message})
	if err != nil {
		return "", fmt.Errorf("marshal stage envelope: %w", err)
	}
	return string(raw), nil
}
