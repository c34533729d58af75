package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// StageType identifies which pipeline stage produced a stored output.
type StageType string

const (
	StageImportReport         StageType = "import_report"
	StageVaccineScanReport    StageType = "vaccine_scan_report"
	StageVulnerabilityReport  StageType = "vulnerability_report"
	StageVulnerabilitySummary StageType = "vulnerability_summary"
)

func (s StageType) Valid() bool {
	switch s {
	case StageImportReport, StageVaccineScanReport, StageVulnerabilityReport, StageVulnerabilitySummary:
		return true
	default:
		return false
	}
}

// StageOutput is an immutable payload captured when a pipeline stage
// completes. Outputs survive logical deletion of the owning import.
type StageOutput struct {
	ID            string
	ImportID      int64
	Stage         StageType
	ObjectKey     string
	Size          int64
	TruncatedFrom int64
	ArtifactID    string
	RevisionID    string
	CreatedBy     string
	CreatedAt     time.Time
}

func (o StageOutput) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("stage output id is required")
	}
	if o.ImportID <= 0 {
		return errors.New("import id is required")
	}
	if !o.Stage.Valid() {
		return errors.New("invalid stage type")
	}
	if strings.TrimSpace(o.ObjectKey) == "" {
		return errors.New("object key is required")
	}
	return nil
}

// TruncateUTF8 caps s at max bytes without splitting a multi-byte character.
// max <= 0 returns the empty string.
func TruncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
