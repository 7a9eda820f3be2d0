package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Label is a structured major.minor version label. Labels are modeled as
// integers internally and rendered to the dotted string only at the storage
// boundary, so a malformed stored label is detectable rather than silently
// restarting the chain at "1.0".
type Label struct {
	Major int
	Minor int
}

// FirstLabel is the label of every document's initial version.
func FirstLabel() Label {
	return Label{Major: 1, Minor: 0}
}

// ParseLabel parses a dotted major.minor label. Both components must be
// plain non-negative decimal integers.
func ParseLabel(raw string) (Label, error) {
	major, minor, ok := strings.Cut(raw, ".")
	if !ok {
		return Label{}, fmt.Errorf("label %q is not major.minor", raw)
	}
	majorN, err := parseLabelComponent(major)
	if err != nil {
		return Label{}, fmt.Errorf("label %q: %w", raw, err)
	}
	minorN, err := parseLabelComponent(minor)
	if err != nil {
		return Label{}, fmt.Errorf("label %q: %w", raw, err)
	}
	return Label{Major: majorN, Minor: minorN}, nil
}

func parseLabelComponent(component string) (int, error) {
	if component == "" {
		return 0, fmt.Errorf("empty component")
	}
	for _, ch := range component {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("component %q is not a number", component)
		}
	}
	n, err := strconv.Atoi(component)
	if err != nil {
		return 0, fmt.Errorf("component %q is not a number", component)
	}
	return n, nil
}

func (l Label) String() string {
	return strconv.Itoa(l.Major) + "." + strconv.Itoa(l.Minor)
}

// Next returns the following label on the chain: the minor component
// increments, the major stays.
func (l Label) Next() Label {
	return Label{Major: l.Major, Minor: l.Minor + 1}
}
