package filter

import "testing"

func TestDefinitionValidate(t *testing.T) {
	cases := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{
			name:    "no conditions",
			def:     Definition{ID: "f1", Operations: []Operation{{Dimension: "channel", Action: ActionUnsetValue}}},
			wantErr: true,
		},
		{
			name:    "no operations",
			def:     Definition{ID: "f1", Conditions: []Condition{{Field: "utm_source", Operator: OpEquals, Value: "google"}}},
			wantErr: true,
		},
		{
			name: "set_value without value",
			def: Definition{
				ID:         "f1",
				Conditions: []Condition{{Field: "utm_source", Operator: OpEquals, Value: "google"}},
				Operations: []Operation{{Dimension: "channel", Action: ActionSetValue}},
			},
			wantErr: true,
		},
		{
			name: "is_empty condition needs no value",
			def: Definition{
				ID:         "f1",
				Conditions: []Condition{{Field: "utm_source", Operator: OpIsEmpty}},
				Operations: []Operation{{Dimension: "channel", Action: ActionUnsetValue}},
			},
			wantErr: false,
		},
		{
			name: "valid set_default_value",
			def: Definition{
				ID:         "f1",
				Conditions: []Condition{{Field: "utm_source", Operator: OpEquals, Value: "google"}},
				Operations: []Operation{{Dimension: "channel", Action: ActionSetDefaultValue, Value: "organic"}},
			},
			wantErr: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSortedForApplicationStableOnTies(t *testing.T) {
	defs := []Definition{
		{ID: "a", Priority: 10},
		{ID: "b", Priority: 20},
		{ID: "c", Priority: 20},
		{ID: "d", Priority: 5},
	}

	sorted := SortedForApplication(defs)

	want := []string{"d", "a", "b", "c"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, sorted[i].ID, id)
		}
	}

	// Original slice is untouched.
	if defs[0].ID != "a" {
		t.Fatalf("SortedForApplication mutated its input")
	}
}

func TestComputeVersionOrderIndependentOnID(t *testing.T) {
	a := []Definition{
		{ID: "1", Enabled: true, Conditions: []Condition{{Field: "f", Operator: OpEquals, Value: "v"}}, Operations: []Operation{{Dimension: "channel", Action: ActionSetValue, Value: "x"}}},
		{ID: "2", Enabled: true, Conditions: []Condition{{Field: "f", Operator: OpEquals, Value: "v"}}, Operations: []Operation{{Dimension: "channel", Action: ActionSetValue, Value: "y"}}},
	}
	b := []Definition{a[1], a[0]}

	if ComputeVersion(a) != ComputeVersion(b) {
		t.Fatalf("ComputeVersion should be independent of input slice order")
	}
}

func TestComputeVersionIgnoresDisabledFilters(t *testing.T) {
	enabled := []Definition{
		{ID: "1", Enabled: true, Conditions: []Condition{{Field: "f", Operator: OpEquals, Value: "v"}}, Operations: []Operation{{Dimension: "channel", Action: ActionSetValue, Value: "x"}}},
	}
	withDisabled := append(append([]Definition{}, enabled...), Definition{
		ID: "2", Enabled: false,
		Conditions: []Condition{{Field: "f", Operator: OpEquals, Value: "v"}},
		Operations: []Operation{{Dimension: "channel", Action: ActionSetValue, Value: "z"}},
	})

	if ComputeVersion(enabled) != ComputeVersion(withDisabled) {
		t.Fatalf("ComputeVersion should ignore disabled filters")
	}
}

func TestComputeVersionSensitiveToConditionOrder(t *testing.T) {
	a := []Definition{{
		ID: "1", Enabled: true,
		Conditions: []Condition{
			{Field: "utm_source", Operator: OpEquals, Value: "google"},
			{Field: "utm_medium", Operator: OpEquals, Value: "cpc"},
		},
		Operations: []Operation{{Dimension: "channel", Action: ActionSetValue, Value: "paid_search"}},
	}}
	b := []Definition{{
		ID: "1", Enabled: true,
		Conditions: []Condition{
			{Field: "utm_medium", Operator: OpEquals, Value: "cpc"},
			{Field: "utm_source", Operator: OpEquals, Value: "google"},
		},
		Operations: []Operation{{Dimension: "channel", Action: ActionSetValue, Value: "paid_search"}},
	}}

	if ComputeVersion(a) == ComputeVersion(b) {
		t.Fatalf("ComputeVersion should be sensitive to condition order within a filter")
	}
}
