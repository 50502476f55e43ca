// Package filter defines the classification rule model shared by the live
// per-row evaluator and the SQL backfill compiler.
package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ConditionOperator is the closed vocabulary of comparison operators a
// FilterCondition may use.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpIsEmpty     ConditionOperator = "is_empty"
	OpIsNotEmpty  ConditionOperator = "is_not_empty"
	OpRegex       ConditionOperator = "regex"
)

// OperationAction is the closed vocabulary of write actions a FilterOperation
// may perform.
type OperationAction string

const (
	ActionSetValue        OperationAction = "set_value"
	ActionUnsetValue      OperationAction = "unset_value"
	ActionSetDefaultValue OperationAction = "set_default_value"
)

// Condition is one AND-ed predicate read against an event's source fields.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value,omitempty"`
}

// Operation writes a value to a writable dimension when its filter's
// conditions all match.
type Operation struct {
	Dimension string          `json:"dimension"`
	Action    OperationAction `json:"action"`
	Value     string          `json:"value,omitempty"`
}

// Definition is one tenant-authored classification filter.
type Definition struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Priority  int      `json:"priority"` // 0-1000, higher wins conflicting writes
	Order     int      `json:"order"`
	Tags      []string `json:"tags,omitempty"`
	Enabled   bool     `json:"enabled"`
	Version   string   `json:"version"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`

	Conditions []Condition `json:"conditions"`
	Operations []Operation `json:"operations"`
}

// Validate enforces the "at least one condition, at least one operation"
// invariant and the value-required rules per operator/action.
func (d *Definition) Validate() error {
	if len(d.Conditions) == 0 {
		return fmt.Errorf("filter %s: must have at least one condition", d.ID)
	}
	if len(d.Operations) == 0 {
		return fmt.Errorf("filter %s: must have at least one operation", d.ID)
	}
	for i, c := range d.Conditions {
		if c.Operator != OpIsEmpty && c.Operator != OpIsNotEmpty && c.Value == "" {
			return fmt.Errorf("filter %s: condition %d operator %s requires a value", d.ID, i, c.Operator)
		}
	}
	for i, o := range d.Operations {
		if (o.Action == ActionSetValue || o.Action == ActionSetDefaultValue) && o.Value == "" {
			return fmt.Errorf("filter %s: operation %d action %s requires a value", d.ID, i, o.Action)
		}
	}
	return nil
}

// SortedForApplication returns a copy of definitions in application order:
// priority ascending with input (declaration) order preserved among ties.
// Applying writes in this order makes the highest-priority filter's write
// the last one standing, and the later-declared of two equal-priority
// filters win the tie. The SQL compiler walks the reverse of this order,
// since a CASE expression takes the first matching branch instead of the
// last write.
func SortedForApplication(defs []Definition) []Definition {
	out := make([]Definition, len(defs))
	copy(out, defs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// ComputeVersion produces the stable 8-character hash used to decide whether
// historical data needs a backfill. It is order-independent on filter id
// (filters are sorted by id before hashing) but order-sensitive on the
// conditions and operations within each filter.
func ComputeVersion(defs []Definition) string {
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var sb strings.Builder
	for _, d := range sorted {
		if !d.Enabled {
			continue
		}
		sb.WriteString(d.ID)
		sb.WriteByte(':')
		fmt.Fprintf(&sb, "%d|", d.Priority)
		for _, c := range d.Conditions {
			fmt.Fprintf(&sb, "c(%s,%s,%s);", c.Field, c.Operator, c.Value)
		}
		for _, o := range d.Operations {
			fmt.Fprintf(&sb, "o(%s,%s,%s);", o.Dimension, o.Action, o.Value)
		}
		sb.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:8]
}
