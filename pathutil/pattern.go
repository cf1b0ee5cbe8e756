package pathutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"hygge.dev/ferrors"
)

// PatternFields supplies the values a file_pattern template can reference:
// {name} (or {entity}), {sequence:0Nd}, {flow_name}, {timestamp}.
type PatternFields struct {
	Name       string
	FlowName   string
	Timestamp  string
	Sequence   int
}

var sequenceField = regexp.MustCompile(`\{sequence:0(\d+)d\}`)

// DefaultPattern is used when a Store configuration specifies none: a bare
// zero-padded sequence counter.
const DefaultPattern = "{sequence:020d}"

// RenderFilePattern expands pattern against fields, following the grammar
// spec §6 documents: {entity}/{name}, {flow_name}, {timestamp} are literal
// substitutions; {sequence:0Nd} is a zero-padded integer with width N.
// Exactly one {entity} (or {name}) substitution is expected per spec §6's
// path pattern invariants; RenderFilePattern does not itself enforce the
// count (callers combine this with entity-path validation separately via
// BuildStagingPath), but rejects a pattern that still contains an
// unrecognized {...} field after substitution as a ConfigError, since
// that signals a typo rather than a valid fixed filename.
func RenderFilePattern(pattern string, fields PatternFields) (string, error) {
	out := pattern
	out = strings.ReplaceAll(out, "{entity}", fields.Name)
	out = strings.ReplaceAll(out, "{name}", fields.Name)
	out = strings.ReplaceAll(out, "{flow_name}", fields.FlowName)
	out = strings.ReplaceAll(out, "{timestamp}", fields.Timestamp)

	out = sequenceField.ReplaceAllStringFunc(out, func(match string) string {
		groups := sequenceField.FindStringSubmatch(match)
		width, err := strconv.Atoi(groups[1])
		if err != nil {
			return match
		}
		return fmt.Sprintf("%0*d", width, fields.Sequence)
	})

	if strings.Contains(out, "{") && strings.Contains(out, "}") {
		return "", ferrors.NewConfigError(fmt.Sprintf("file pattern %q contains an unrecognized template field", pattern), nil)
	}
	return out, nil
}
