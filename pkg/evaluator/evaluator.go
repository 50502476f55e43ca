// Package evaluator implements the two execution modes of the filter engine:
// a live per-row evaluator used during ingest, and a SQL CASE-expression
// compiler used by the backfill processor. Both share the same AND-of-
// conditions, priority-ordered, last-write-wins semantics.
package evaluator

import (
	"regexp"
	"strings"

	"github.com/user/analytics-ingest/pkg/event"
	"github.com/user/analytics-ingest/pkg/filter"
)

// Evaluator runs compiled filter definitions against in-process events.
type Evaluator struct {
	// ascending holds the definitions sorted priority-ascending with
	// declaration order preserved among ties. Applying writes in this order
	// makes the highest-priority filter's write the last one standing, and
	// the later-declared of two equal-priority filters win the tie.
	ascending []filter.Definition
}

// New returns an Evaluator over defs.
func New(defs []filter.Definition) *Evaluator {
	return &Evaluator{ascending: filter.SortedForApplication(defs)}
}

// Result is the outcome of evaluating one event: the stm custom-dimension
// overlay and the non-stm writable-dimension overlay, kept separate the way
// the ingest pipeline consumes them.
type Result struct {
	CustomDimensions map[string]string
	ModifiedFields   map[string]string
}

// Evaluate runs every enabled filter against ev and returns the dimension
// overlay the matching operations produce. Conditions read ev's source
// fields as submitted; operation writes accumulate in the overlay and do not
// feed back into condition evaluation.
func (e *Evaluator) Evaluate(ev *event.TrackingEvent) Result {
	overlay := make(map[string]string)

	current := func(dim string) string {
		if v, ok := overlay[dim]; ok {
			return v
		}
		return ev.DimensionValue(dim)
	}

	for _, def := range e.ascending {
		if !def.Enabled {
			continue
		}
		if !EvaluateConditions(ev, def.Conditions) {
			continue
		}
		for _, op := range def.Operations {
			switch op.Action {
			case filter.ActionSetValue:
				overlay[op.Dimension] = op.Value
			case filter.ActionSetDefaultValue:
				if current(op.Dimension) == "" {
					overlay[op.Dimension] = op.Value
				}
			case filter.ActionUnsetValue:
				overlay[op.Dimension] = ""
			}
		}
	}

	res := Result{
		CustomDimensions: make(map[string]string),
		ModifiedFields:   make(map[string]string),
	}
	for dim, val := range overlay {
		if strings.HasPrefix(dim, "stm_") {
			res.CustomDimensions[dim] = val
		} else {
			res.ModifiedFields[dim] = val
		}
	}
	return res
}

// Apply evaluates ev and writes the resulting overlay back onto its
// dimension columns. is_direct string output is coerced back to boolean by
// the event's SetDimension.
func (e *Evaluator) Apply(ev *event.TrackingEvent) {
	res := e.Evaluate(ev)
	for dim, val := range res.CustomDimensions {
		ev.SetDimension(dim, val)
	}
	for dim, val := range res.ModifiedFields {
		ev.SetDimension(dim, val)
	}
}

// EvaluateConditions reports whether every condition in conditions matches
// ev. An empty condition list matches trivially.
func EvaluateConditions(ev *event.TrackingEvent, conditions []filter.Condition) bool {
	for _, c := range conditions {
		if !evaluateCondition(ev, c) {
			return false
		}
	}
	return true
}

func evaluateCondition(ev *event.TrackingEvent, c filter.Condition) bool {
	val, present := ev.FieldValue(c.Field)

	switch c.Operator {
	case filter.OpEquals:
		return val == c.Value
	case filter.OpNotEquals:
		return val != "" && val != c.Value
	case filter.OpContains:
		return strings.Contains(val, c.Value)
	case filter.OpNotContains:
		return val != "" && !strings.Contains(val, c.Value)
	case filter.OpIsEmpty:
		return val == "" || !present
	case filter.OpIsNotEmpty:
		return val != "" && present
	case filter.OpRegex:
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return false
		}
		return re.MatchString(val)
	}
	return false
}
