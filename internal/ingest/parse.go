package ingest

import (
	"regexp"
	"strings"
)

// compoundPattern splits "<freeText>(<fileNameWithExtension>)". The filename
// part must contain a dot-separated extension so plain parenthesised prose is
// not mistaken for a file reference.
var compoundPattern = regexp.MustCompile(`^(.*)\(([^()]+\.[A-Za-z0-9][A-Za-z0-9.]*)\)\s*$`)

// ParsedMessage is the outcome of compound message parsing. DerivedName is
// empty when the raw string carried no recognizable file reference.
type ParsedMessage struct {
	Message     string
	DerivedName string
}

// ParseCompoundMessage extracts the diagnostic text and, when present, the
// model name encoded in the trailing file name. Underscores in the file name
// encode path separators and the archive extension is dropped, so
// "model_a_v1.zip" names the model "model/a/v1".
func ParseCompoundMessage(raw string, archiveExtensions []string) ParsedMessage {
	match := compoundPattern.FindStringSubmatch(raw)
	if match == nil {
		return ParsedMessage{Message: strings.TrimSpace(raw)}
	}

	message := strings.TrimSpace(match[1])
	fileName := strings.TrimSpace(match[2])
	name := stripArchiveExtension(fileName, archiveExtensions)
	if name == fileName {
		// unknown extension, treat the whole parenthesised part as prose
		return ParsedMessage{Message: strings.TrimSpace(raw)}
	}

	return ParsedMessage{
		Message:     message,
		DerivedName: strings.ReplaceAll(name, "_", "/"),
	}
}

// stripArchiveExtension removes a known archive suffix, checking multi-part
// extensions before their tails so "tar.gz" wins over "gz".
func stripArchiveExtension(fileName string, extensions []string) string {
	lower := strings.ToLower(fileName)
	best := ""
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if strings.HasSuffix(lower, "."+ext) && len(ext) > len(best) {
			best = ext
		}
	}
	if best == "" {
		return fileName
	}
	return fileName[:len(fileName)-len(best)-1]
}
