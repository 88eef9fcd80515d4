package huntctx

import (
	"strconv"
	"strings"
)

// mappingSource distinguishes where a mapping expression reads from.
type mappingSource int

const (
	sourceInitial mappingSource = iota
	sourceStepOutput
)

// Mapping is a parsed dotted-path expression wiring a step input either to an
// initial parameter ("initial.indicator") or to a prior step's output
// ("whois.registrar.name"). An expression whose first segment names neither
// "initial" nor a step with a recorded output resolves to absent.
type Mapping struct {
	source mappingSource
	stepID string
	path   []string
}

// ParseMapping splits a dotted-path expression into its parsed form. The
// expression is never rejected here; unknown references simply resolve to
// absent at resolution time.
func ParseMapping(expr string) Mapping {
	segments := strings.Split(strings.TrimSpace(expr), ".")
	if len(segments) == 0 || segments[0] == "" {
		return Mapping{source: sourceStepOutput}
	}
	if segments[0] == "initial" {
		return Mapping{source: sourceInitial, path: segments[1:]}
	}
	return Mapping{source: sourceStepOutput, stepID: segments[0], path: segments[1:]}
}

// traversePath walks a dotted path through nested maps and lists. Outputs are
// normalized to plain JSON shapes before storage, so map[string]any keys and
// []any numeric indices cover every reachable value.
func traversePath(value any, path []string) (any, bool) {
	current := value
	for _, segment := range path {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}
