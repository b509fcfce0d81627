// Package sarif holds the SARIF 2.1.0 subset quell emits and the assembler
// that builds it from store entries.
package sarif

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chris-regnier/quell/internal/finding"
)

const SchemaURI = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json"
const Version = "2.1.0"

type Log struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

type Run struct {
	Tool        Tool           `json:"tool"`
	Invocations []Invocation   `json:"invocations,omitempty"`
	Results     []Result       `json:"results"`
	Properties  map[string]any `json:"properties,omitempty"`
}

type Tool struct {
	Driver Driver `json:"driver"`
}

type Driver struct {
	Name           string                `json:"name"`
	Version        string                `json:"version,omitempty"`
	InformationURI string                `json:"informationUri,omitempty"`
	Rules          []ReportingDescriptor `json:"rules,omitempty"`
}

type ReportingDescriptor struct {
	ID               string                  `json:"id"`
	ShortDescription *Message                `json:"shortDescription,omitempty"`
	HelpURI          string                  `json:"helpUri,omitempty"`
	DefaultConfig    *ReportingConfiguration `json:"defaultConfiguration,omitempty"`
	Properties       map[string]any          `json:"properties,omitempty"`
}

type ReportingConfiguration struct {
	Level string `json:"level,omitempty"`
}

// Invocation records whether the scanner ran cleanly and what it reported
// besides findings.
type Invocation struct {
	WorkingDirectory           *ArtifactLocation `json:"workingDirectory,omitempty"`
	ExecutionSuccessful        bool              `json:"executionSuccessful"`
	ToolExecutionNotifications []Notification    `json:"toolExecutionNotifications,omitempty"`
}

type Notification struct {
	Level   string  `json:"level"`
	Message Message `json:"message"`
}

type Result struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             Message           `json:"message"`
	Locations           []Location        `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Properties          map[string]any    `json:"properties,omitempty"`
}

type Message struct {
	Text string `json:"text"`
}

type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
}

type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           Region           `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI string `json:"uri"`
}

type Region struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
	EndColumn   int `json:"endColumn,omitempty"`
}

func NewLog(toolName, toolVersion string) *Log {
	return &Log{
		Schema:  SchemaURI,
		Version: Version,
		Runs: []Run{{
			Tool: Tool{
				Driver: Driver{
					Name:           toolName,
					Version:        toolVersion,
					InformationURI: "https://github.com/chris-regnier/quell",
				},
			},
			Results: []Result{},
		}},
	}
}

// Level maps a finding severity to a SARIF result level.
func Level(s finding.Severity) string {
	switch s {
	case finding.SeverityError:
		return "error"
	case finding.SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}

// Fingerprint identifies a finding independently of its position in the
// report so that two runs can be compared.
func Fingerprint(uri string, f finding.Finding) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%s", f.RuleID, uri, f.Start.Line, f.Message)))
	return hex.EncodeToString(h[:16])
}
