package sarif

import (
	"path/filepath"
	"strings"

	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/rules"
)

// ToolName is the driver name written to every log.
const ToolName = "quell"

// Assembler provides a builder pattern for constructing SARIF logs from
// store entries.
type Assembler struct {
	root        string
	toolVersion string
	entries     []finding.Entry
	catalog     *rules.Catalog
	run         *finding.ScanRun
}

// NewAssembler creates an assembler that writes URIs relative to root.
func NewAssembler(root string) *Assembler {
	return &Assembler{root: root, toolVersion: "dev"}
}

// AddEntries adds findings to the log
func (a *Assembler) AddEntries(entries []finding.Entry) *Assembler {
	a.entries = append(a.entries, entries...)
	return a
}

// WithCatalog fills driver rules from the loaded rule set.
func (a *Assembler) WithCatalog(c *rules.Catalog) *Assembler {
	a.catalog = c
	return a
}

// WithRun records the scan run's id, version and error notes.
func (a *Assembler) WithRun(run *finding.ScanRun) *Assembler {
	a.run = run
	return a
}

func (a *Assembler) WithToolVersion(v string) *Assembler {
	a.toolVersion = v
	return a
}

// Build constructs the final SARIF log. Results keep entry order; exact
// duplicates (same rule, file and region) are dropped.
func (a *Assembler) Build() *Log {
	log := NewLog(ToolName, a.toolVersion)
	run := &log.Runs[0]

	var ruleOrder []string
	seenRule := make(map[string]bool)
	results := make([]Result, 0, len(a.entries))
	for _, e := range a.entries {
		uri := a.uri(e.Path)
		f := e.Finding
		r := Result{
			RuleID:  f.RuleID,
			Level:   Level(f.Severity),
			Message: Message{Text: f.Message},
			Locations: []Location{{
				PhysicalLocation: PhysicalLocation{
					ArtifactLocation: ArtifactLocation{URI: uri},
					Region: Region{
						StartLine:   f.Start.Line,
						StartColumn: f.Start.Col,
						EndLine:     f.End.Line,
						EndColumn:   f.End.Col,
					},
				},
			}},
			PartialFingerprints: map[string]string{"quell/v1": Fingerprint(uri, f)},
			Properties:          map[string]any{"quell/severity": f.Severity.String()},
		}
		if len(f.Metadata) > 0 {
			r.Properties["quell/metadata"] = f.Metadata
		}
		results = append(results, r)

		if !seenRule[f.RuleID] {
			seenRule[f.RuleID] = true
			ruleOrder = append(ruleOrder, f.RuleID)
		}
	}
	run.Results = dedup(results)

	for _, id := range ruleOrder {
		run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, a.descriptor(id))
	}

	if a.run != nil {
		run.Properties = map[string]any{
			"quell/scanId": a.run.ID,
			"quell/target": a.run.Target,
		}
		if a.run.Version != "" {
			run.Properties["quell/scannerVersion"] = a.run.Version
		}
		inv := Invocation{ExecutionSuccessful: len(a.run.Errors) == 0}
		for _, e := range a.run.Errors {
			inv.ToolExecutionNotifications = append(inv.ToolExecutionNotifications, Notification{
				Level:   "error",
				Message: Message{Text: e},
			})
		}
		run.Invocations = []Invocation{inv}
	}
	return log
}

func (a *Assembler) descriptor(id string) ReportingDescriptor {
	d := ReportingDescriptor{ID: id}
	r, ok := a.catalog.Lookup(id)
	if !ok {
		return d
	}
	short := r.Message
	if i := strings.IndexByte(short, '\n'); i >= 0 {
		short = short[:i]
	}
	d.ShortDescription = &Message{Text: strings.TrimSpace(short)}
	if sev, err := r.Severity(); err == nil {
		d.DefaultConfig = &ReportingConfiguration{Level: Level(sev)}
	}
	if refs := r.References(); len(refs) > 0 {
		d.HelpURI = refs[0]
	}
	props := map[string]any{}
	if r.Category != "" {
		props["category"] = r.Category
	}
	var tags []string
	tags = append(tags, r.CWE()...)
	tags = append(tags, r.OWASP()...)
	if len(tags) > 0 {
		props["tags"] = tags
	}
	if len(props) > 0 {
		d.Properties = props
	}
	return d
}

func (a *Assembler) uri(path string) string {
	if a.root != "" && filepath.IsAbs(path) {
		if rel, err := filepath.Rel(a.root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

func dedup(results []Result) []Result {
	type key struct {
		ruleID string
		uri    string
		region Region
	}

	seen := make(map[key]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		k := key{ruleID: r.RuleID}
		if len(r.Locations) > 0 {
			k.uri = r.Locations[0].PhysicalLocation.ArtifactLocation.URI
			k.region = r.Locations[0].PhysicalLocation.Region
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
