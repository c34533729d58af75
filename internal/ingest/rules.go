// Package ingest adapts the four external completion channels onto the
// pipeline service.
package ingest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules configures the text-based failure sniffing and the archive
// extensions recognized when deriving a model name from a file name. The
// upstream channels report failure only through message wording, so the
// phrase list is operator-tunable without a rebuild.
type Rules struct {
	FailurePhrases    []string `yaml:"failure_phrases"`
	ArchiveExtensions []string `yaml:"archive_extensions"`
}

func DefaultRules() Rules {
	return Rules{
		FailurePhrases: []string{
			"수신되지 않았습니다",
			"악성코드",
			"not received",
			"malware",
		},
		ArchiveExtensions: []string{
			"tar.gz",
			"tar.bz2",
			"tgz",
			"zip",
			"tar",
			"gz",
			"7z",
		},
	}
}

// LoadRules reads a rules file and fills gaps with the defaults.
func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	defaults := DefaultRules()
	if len(rules.FailurePhrases) == 0 {
		rules.FailurePhrases = defaults.FailurePhrases
	}
	if len(rules.ArchiveExtensions) == 0 {
		rules.ArchiveExtensions = defaults.ArchiveExtensions
	}
	return rules, nil
}

// IsFailureMessage reports whether the message wording signals a failed
// stage.
func (r Rules) IsFailureMessage(message string) bool {
	for _, phrase := range r.FailurePhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}
