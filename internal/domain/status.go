package domain

import "fmt"

// ImportStatus represents how far a model import has progressed through the
// validation pipeline.
type ImportStatus string

const (
	StatusCreated                        ImportStatus = "created"
	StatusImportRequested                ImportStatus = "import_requested"
	StatusFileImportCompleted            ImportStatus = "file_import_completed"
	StatusVaccineScanCompleted           ImportStatus = "vaccine_scan_completed"
	StatusVulnerabilityCheckCompleted    ImportStatus = "vulnerability_check_completed"
	StatusInternalNetworkImportCompleted ImportStatus = "internal_network_import_completed"
	StatusImportFailed                   ImportStatus = "import_failed"
)

func (s ImportStatus) Valid() bool {
	switch s {
	case StatusCreated,
		StatusImportRequested,
		StatusFileImportCompleted,
		StatusVaccineScanCompleted,
		StatusVulnerabilityCheckCompleted,
		StatusInternalNetworkImportCompleted,
		StatusImportFailed:
		return true
	default:
		return false
	}
}

var importTransitions = map[ImportStatus][]ImportStatus{
	StatusCreated: {
		StatusImportRequested,
		StatusFileImportCompleted,
		StatusInternalNetworkImportCompleted,
		StatusImportFailed,
	},
	StatusImportRequested: {
		StatusFileImportCompleted,
		StatusInternalNetworkImportCompleted,
		StatusImportFailed,
	},
	StatusFileImportCompleted: {
		StatusVaccineScanCompleted,
		StatusImportFailed,
	},
	StatusVaccineScanCompleted: {
		StatusVulnerabilityCheckCompleted,
		StatusImportFailed,
	},
	StatusVulnerabilityCheckCompleted:    {},
	StatusInternalNetworkImportCompleted: {},
	StatusImportFailed:                   {},
}

// CanTransition returns true when a transition is allowed.
func CanTransition(from, to ImportStatus) bool {
	allowed, ok := importTransitions[from]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition ensures an import status transition is valid. Re-delivery
// of the current status is accepted for non-terminal states so retried
// webhooks can refresh stage outputs; terminal states accept nothing.
func ValidateTransition(from, to ImportStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid import status transition")
	}
	if from.Terminal() {
		return fmt.Errorf("import status transition %q -> %q not allowed", from, to)
	}
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("import status transition %q -> %q not allowed", from, to)
	}
	return nil
}

// Terminal reports whether no further stage callbacks are accepted.
func (s ImportStatus) Terminal() bool {
	allowed, ok := importTransitions[s]
	return ok && len(allowed) == 0
}

// StatusGroup is the coarse progress classification used by list filters.
type StatusGroup string

const (
	GroupBefore   StatusGroup = "before"
	GroupProgress StatusGroup = "progress"
	GroupComplete StatusGroup = "complete"
)

func (g StatusGroup) Valid() bool {
	switch g {
	case GroupBefore, GroupProgress, GroupComplete:
		return true
	default:
		return false
	}
}

// GroupOf derives the status group. It is a pure function of status so the
// grouping can never drift from the stored state.
func GroupOf(s ImportStatus) StatusGroup {
	switch s {
	case StatusCreated, StatusImportRequested:
		return GroupBefore
	case StatusFileImportCompleted, StatusVaccineScanCompleted:
		return GroupProgress
	default:
		return GroupComplete
	}
}

// StatusesInGroup lists every status that maps to the group.
func StatusesInGroup(g StatusGroup) []ImportStatus {
	out := make([]ImportStatus, 0, len(importTransitions))
	for status := range importTransitions {
		if GroupOf(status) == g {
			out = append(out, status)
		}
	}
	return out
}
