package goal

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	goaldom "github.com/arbiterfabric/cogrt/internal/app/domain/goal"
)

// MetadataFilter narrows QueryGoals by a goal's metadata blob. The three
// fields address distinct query shapes (spec §4.K's query_goals metadata
// filters): Path is a flat single-field lookup (gjson, cheap, no
// allocation beyond the marshal); Expr is a compound path expression over
// nested metadata (jsonpath, needed once a filter crosses into arrays or
// multiple levels gjson's dotted paths can't express as directly);
// Predicate is a boolean expression over the whole metadata map (gval,
// needed once the filter is a comparison/combination rather than a path
// lookup at all, e.g. "priority > 5 && category == 'infra'"). Exactly one
// of Path/Expr/Predicate should be set; Path takes precedence, then Expr.
type MetadataFilter struct {
	Path      string
	Expr      string
	Predicate string
	Equal     interface{}
}

func (m MetadataFilter) empty() bool {
	return m.Path == "" && m.Expr == "" && m.Predicate == ""
}

func matchesMetadata(g goaldom.Goal, m MetadataFilter) bool {
	if m.empty() {
		return true
	}
	if m.Path != "" {
		data, err := json.Marshal(g.Metadata)
		if err != nil {
			return false
		}
		result := gjson.GetBytes(data, m.Path)
		if !result.Exists() {
			return false
		}
		return fmt.Sprint(result.Value()) == fmt.Sprint(m.Equal)
	}

	if m.Expr != "" {
		got, err := jsonpath.Get(m.Expr, map[string]interface{}(g.Metadata))
		if err != nil {
			return false
		}
		return fmt.Sprint(got) == fmt.Sprint(m.Equal)
	}

	result, err := gval.Evaluate(m.Predicate, map[string]interface{}(g.Metadata))
	if err != nil {
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}
