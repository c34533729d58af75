package domain

import "testing"

func TestValidateTransitionHappyPath(t *testing.T) {
	steps := []struct {
		from ImportStatus
		to   ImportStatus
	}{
		{StatusCreated, StatusImportRequested},
		{StatusImportRequested, StatusFileImportCompleted},
		{StatusFileImportCompleted, StatusVaccineScanCompleted},
		{StatusVaccineScanCompleted, StatusVulnerabilityCheckCompleted},
	}
	for _, step := range steps {
		if err := ValidateTransition(step.from, step.to); err != nil {
			t.Fatalf("ValidateTransition(%s, %s) err=%v", step.from, step.to, err)
		}
	}
}

func TestValidateTransitionInternalNetworkPath(t *testing.T) {
	if err := ValidateTransition(StatusCreated, StatusInternalNetworkImportCompleted); err != nil {
		t.Fatalf("created -> internal_network_import_completed err=%v", err)
	}
	if err := ValidateTransition(StatusImportRequested, StatusInternalNetworkImportCompleted); err != nil {
		t.Fatalf("import_requested -> internal_network_import_completed err=%v", err)
	}
}

func TestFailureReachableFromEveryNonTerminalStatus(t *testing.T) {
	for status := range importTransitions {
		if status.Terminal() {
			continue
		}
		if err := ValidateTransition(status, StatusImportFailed); err != nil {
			t.Fatalf("%s -> import_failed err=%v", status, err)
		}
	}
}

func TestTerminalStatusesRejectEverything(t *testing.T) {
	terminals := []ImportStatus{
		StatusVulnerabilityCheckCompleted,
		StatusInternalNetworkImportCompleted,
		StatusImportFailed,
	}
	for _, from := range terminals {
		for to := range importTransitions {
			if err := ValidateTransition(from, to); err == nil {
				t.Fatalf("expected %s -> %s to be rejected", from, to)
			}
		}
	}
}

func TestValidateTransitionAllowsRetrySameStatus(t *testing.T) {
	if err := ValidateTransition(StatusVaccineScanCompleted, StatusVaccineScanCompleted); err != nil {
		t.Fatalf("redelivered callback for current status should pass, err=%v", err)
	}
}

func TestValidateTransitionRejectsRegression(t *testing.T) {
	if err := ValidateTransition(StatusVaccineScanCompleted, StatusFileImportCompleted); err == nil {
		t.Fatalf("expected regression to be rejected")
	}
}

func TestGroupOfCoversEveryStatus(t *testing.T) {
	want := map[ImportStatus]StatusGroup{
		StatusCreated:                        GroupBefore,
		StatusImportRequested:                GroupBefore,
		StatusFileImportCompleted:            GroupProgress,
		StatusVaccineScanCompleted:           GroupProgress,
		StatusVulnerabilityCheckCompleted:    GroupComplete,
		StatusInternalNetworkImportCompleted: GroupComplete,
		StatusImportFailed:                   GroupComplete,
	}
	if len(want) != len(importTransitions) {
		t.Fatalf("grouping table out of sync with transition table")
	}
	for status, group := range want {
		if got := GroupOf(status); got != group {
			t.Fatalf("GroupOf(%s)=%s, want %s", status, got, group)
		}
	}
}

func TestStatusesInGroup(t *testing.T) {
	before := StatusesInGroup(GroupBefore)
	if len(before) != 2 {
		t.Fatalf("before group=%v, want two statuses", before)
	}
	complete := StatusesInGroup(GroupComplete)
	if len(complete) != 3 {
		t.Fatalf("complete group=%v, want three statuses", complete)
	}
}
