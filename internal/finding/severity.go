package finding

import (
	"errors"
	"fmt"
	"strings"
)

// Severity is the scanner's finding severity. The zero value is invalid so
// that an unset field never passes as INFO.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityError
)

// ErrUnknownSeverity is returned when a severity string is not one of the
// enumerated values.
var ErrUnknownSeverity = errors.New("unknown severity")

// Severities lists every valid severity in ascending order.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityError}

var severityNames = map[Severity]string{
	SeverityInfo:    "INFO",
	SeverityWarning: "WARNING",
	SeverityError:   "ERROR",
}

var severityByName = map[string]Severity{}

func init() {
	if len(severityNames) != len(Severities) {
		panic("finding: severity name table does not cover every severity")
	}
	for i, s := range Severities {
		name, ok := severityNames[s]
		if !ok {
			panic(fmt.Sprintf("finding: severity %d has no name", int(s)))
		}
		if i > 0 && Severities[i-1] >= s {
			panic("finding: severities are not in ascending order")
		}
		severityByName[name] = s
	}
}

// ParseSeverity maps a scanner severity string to a Severity. Matching is
// case-insensitive. Anything outside the enumeration is an error.
func ParseSeverity(s string) (Severity, error) {
	sev, ok := severityByName[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
	}
	return sev, nil
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Valid reports whether s is one of the enumerated severities.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s >= min
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSeverity, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	sev, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}
