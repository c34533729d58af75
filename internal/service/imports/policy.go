package imports

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/modelimport/internal/domain"
)

// transitionPolicy runs target-status-specific side effects and input
// normalization before a transition is committed. Policies must tolerate
// retries of the same transition request.
type transitionPolicy interface {
	name() string
	apply(ctx context.Context, record domain.ModelImport, input *TransitionInput) error
}

var transitionPolicies = map[domain.ImportStatus]transitionPolicy{
	domain.StatusCreated:                        policyNoop{"noop"},
	domain.StatusImportRequested:                policyAttachArtifact{},
	domain.StatusFileImportCompleted:            policyNoop{"file_import"},
	domain.StatusVaccineScanCompleted:           policySplitCount{},
	domain.StatusVulnerabilityCheckCompleted:    policyNoop{"vulnerability_check"},
	domain.StatusInternalNetworkImportCompleted: policyNoop{"internal_network_import"},
	domain.StatusImportFailed:                   policyNoop{"import_failed"},
}

// policyFor fails loudly for an unmapped status so adding a status without
// deciding its policy cannot slip through.
func policyFor(target domain.ImportStatus) (transitionPolicy, error) {
	policy, ok := transitionPolicies[target]
	if !ok {
		return nil, fmt.Errorf("no transition policy for status %q", target)
	}
	return policy, nil
}

type policyNoop struct {
	label string
}

func (p policyNoop) name() string { return p.label }

func (p policyNoop) apply(ctx context.Context, record domain.ModelImport, input *TransitionInput) error {
	return nil
}

// policyAttachArtifact binds the external artifact to the record when the
// import is requested. Without the references later cancellation on delete
// has nothing to address.
type policyAttachArtifact struct{}

func (p policyAttachArtifact) name() string { return "attach_artifact" }

func (p policyAttachArtifact) apply(ctx context.Context, record domain.ModelImport, input *TransitionInput) error {
	if strings.TrimSpace(input.ArtifactID) == "" && strings.TrimSpace(record.ArtifactID) == "" {
		return fmt.Errorf("artifact id is required to request an import")
	}
	if strings.TrimSpace(input.RevisionID) == "" && strings.TrimSpace(record.RevisionID) == "" {
		return fmt.Errorf("revision id is required to request an import")
	}
	return nil
}

// policySplitCount normalizes the vaccine stage's split-file count.
type policySplitCount struct{}

func (p policySplitCount) name() string { return "split_count" }

func (p policySplitCount) apply(ctx context.Context, record domain.ModelImport, input *TransitionInput) error {
	if input.SplitCount == nil {
		return nil
	}
	if *input.SplitCount < 1 {
		return fmt.Errorf("split count must be >= 1 (got %d)", *input.SplitCount)
	}
	return nil
}
