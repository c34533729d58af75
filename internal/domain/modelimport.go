package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DeployType classifies how the imported model will be served.
type DeployType string

const (
	DeploySelfHosted DeployType = "self_hosted"
	DeployServerless DeployType = "serverless"
)

func (d DeployType) Valid() bool {
	switch d {
	case DeploySelfHosted, DeployServerless:
		return true
	default:
		return false
	}
}

// ModelImport tracks one candidate model artifact through the asynchronous
// validation pipeline.
type ModelImport struct {
	ID              int64
	Name            string
	DeployType      DeployType
	Status          ImportStatus
	ArtifactID      string
	RevisionID      string
	FileSplitCount  int
	StageOutputRefs map[StageType]string
	Metadata        Metadata
	Deleted         bool
	CreatedBy       string
	UpdatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (m ModelImport) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("import name is required")
	}
	if !m.DeployType.Valid() {
		return errors.New("invalid deploy type")
	}
	if !m.Status.Valid() {
		return errors.New("invalid import status")
	}
	if m.FileSplitCount < 1 {
		return errors.New("file split count must be >= 1")
	}
	return nil
}

// Group returns the coarse progress classification of the record.
func (m ModelImport) Group() StatusGroup {
	return GroupOf(m.Status)
}

// DeletedName builds the rename applied to self-hosted records on logical
// delete, freeing the original name for immediate reuse.
func DeletedName(name string, id int64) string {
	return fmt.Sprintf("%s_%d", name, id)
}
