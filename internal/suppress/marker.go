package suppress

import (
	"regexp"
	"strings"
)

// DefaultMarker is the keyword the scanner honors in suppression comments.
const DefaultMarker = "nosemgrep"

// markerPattern matches "<token> <marker>" optionally followed by
// ": id[, id...]".
type markerPattern struct {
	re *regexp.Regexp
}

func newMarkerPattern(token, marker string) markerPattern {
	expr := regexp.QuoteMeta(token) + `\s*` + regexp.QuoteMeta(marker) + `\b(?:\s*:\s*([^\r\n]*))?`
	return markerPattern{re: regexp.MustCompile(expr)}
}

func (m markerPattern) find(line string) bool {
	return m.re.MatchString(line)
}

// ruleIDs returns the ids listed after the marker, if any.
func (m markerPattern) ruleIDs(line string) []string {
	match := m.re.FindStringSubmatch(line)
	if match == nil || match[1] == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(match[1], ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// FormatMarker renders the comment text appended for ruleID.
func FormatMarker(token, marker, ruleID string) string {
	return token + " " + marker + ": " + ruleID
}
