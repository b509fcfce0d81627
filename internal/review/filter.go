package review

import (
	"sort"

	"github.com/chris-regnier/quell/internal/finding"
)

// minSeverity is the lowest severity the filter lets through.
func (f Filter) minSeverity() finding.Severity {
	switch f {
	case FilterErrors:
		return finding.SeverityError
	case FilterWarnings:
		return finding.SeverityWarning
	default:
		return finding.SeverityInfo
	}
}

func (f Filter) String() string {
	switch f {
	case FilterErrors:
		return "errors"
	case FilterWarnings:
		return "warnings+"
	default:
		return "all"
	}
}

// getFilteredFindings returns findings filtered by current filter setting
func (m *ReviewModel) getFilteredFindings() []finding.Entry {
	if m.filter == FilterAll {
		return m.findings
	}
	min := m.filter.minSeverity()
	var filtered []finding.Entry
	for _, e := range m.findings {
		if e.Finding.Severity.AtLeast(min) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// getFilteredFiles returns the finding count per file under the current
// filter. Files with nothing left are omitted.
func (m *ReviewModel) getFilteredFiles() map[string]int {
	counts := make(map[string]int)
	for _, e := range m.getFilteredFindings() {
		counts[e.Path]++
	}
	return counts
}

// getFileList returns a sorted list of file paths
func (m *ReviewModel) getFileList() []string {
	counts := m.getFilteredFiles()
	files := make([]string, 0, len(counts))
	for file := range counts {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}
