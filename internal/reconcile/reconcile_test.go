package reconcile

import (
	"testing"
)

func TestDiffLineItems_EmptyCart(t *testing.T) {
	desired := []DesiredItem{
		{VariantID: "v2", Quantity: 1},
		{VariantID: "v1", Quantity: 2},
	}

	diff := DiffLineItems(nil, desired)

	if len(diff.ToAdd) != 2 || len(diff.ToRemove) != 0 || len(diff.ToUpdate) != 0 {
		t.Fatalf("diff = %+v, want 2 adds", diff)
	}
	if diff.ToAdd[0].VariantID != "v1" {
		t.Errorf("adds not sorted by variant: %+v", diff.ToAdd)
	}
}

func TestDiffLineItems_ClearCart(t *testing.T) {
	current := []CurrentItem{
		{LineID: "line_1", VariantID: "v1", Quantity: 2},
		{LineID: "line_2", VariantID: "v2", Quantity: 1},
	}

	diff := DiffLineItems(current, nil)

	if len(diff.ToRemove) != 2 {
		t.Fatalf("ToRemove = %d, want 2", len(diff.ToRemove))
	}
	// Line IDs are what the delete call needs
	for _, item := range diff.ToRemove {
		if item.LineID == "" {
			t.Error("ToRemove item missing LineID")
		}
	}
}

func TestDiffLineItems_Mixed(t *testing.T) {
	current := []CurrentItem{
		{LineID: "line_1", VariantID: "v1", Quantity: 2}, // removed
		{LineID: "line_2", VariantID: "v2", Quantity: 1}, // updated
		{LineID: "line_3", VariantID: "v3", Quantity: 3}, // unchanged
	}
	desired := []DesiredItem{
		{VariantID: "v2", Quantity: 5},
		{VariantID: "v3", Quantity: 3},
		{VariantID: "v4", Quantity: 1},
	}

	diff := DiffLineItems(current, desired)

	if diff.Len() != 3 {
		t.Fatalf("Len() = %d, want 3: %+v", diff.Len(), diff)
	}
	if diff.ToRemove[0].LineID != "line_1" {
		t.Errorf("ToRemove = %+v", diff.ToRemove)
	}
	u := diff.ToUpdate[0]
	if u.LineID != "line_2" || u.OldQuantity != 1 || u.NewQuantity != 5 {
		t.Errorf("ToUpdate = %+v", u)
	}
	if diff.ToAdd[0].VariantID != "v4" {
		t.Errorf("ToAdd = %+v", diff.ToAdd)
	}
}

func TestDiffLineItems_ZeroQuantityRemoves(t *testing.T) {
	current := []CurrentItem{{LineID: "line_1", VariantID: "v1", Quantity: 2}}
	desired := []DesiredItem{{VariantID: "v1", Quantity: 0}, {VariantID: "v9", Quantity: 0}}

	diff := DiffLineItems(current, desired)

	if len(diff.ToRemove) != 1 || diff.ToRemove[0].LineID != "line_1" {
		t.Errorf("ToRemove = %+v", diff.ToRemove)
	}
	if len(diff.ToAdd) != 0 || len(diff.ToUpdate) != 0 {
		t.Errorf("zero quantities must never be added or updated: %+v", diff)
	}
}

func TestDiffLineItems_DuplicateLines(t *testing.T) {
	current := []CurrentItem{
		{LineID: "line_1", VariantID: "v1", Quantity: 1},
		{LineID: "line_2", VariantID: "v1", Quantity: 1},
	}
	desired := []DesiredItem{{VariantID: "v1", Quantity: 1}}

	diff := DiffLineItems(current, desired)

	if len(diff.ToRemove) != 1 || diff.ToRemove[0].LineID != "line_2" {
		t.Errorf("ToRemove = %+v, want the duplicate line_2", diff.ToRemove)
	}
	if len(diff.ToUpdate) != 0 {
		t.Errorf("ToUpdate = %+v, want none", diff.ToUpdate)
	}
}

func TestDiffLineItems_MergesDesired(t *testing.T) {
	desired := []DesiredItem{
		{VariantID: "v1", Quantity: 1},
		{VariantID: "v1", Quantity: 2},
	}

	diff := DiffLineItems(nil, desired)

	if len(diff.ToAdd) != 1 || diff.ToAdd[0].Quantity != 3 {
		t.Errorf("ToAdd = %+v, want one add with quantity 3", diff.ToAdd)
	}
}

func TestDiffLineItems_Metadata(t *testing.T) {
	current := []CurrentItem{{LineID: "line_1", VariantID: "v1", Quantity: 1, Metadata: map[string]string{"size": "M"}}}

	tests := []struct {
		name       string
		metadata   map[string]string
		wantUpdate bool
	}{
		{"unspecified keeps current", nil, false},
		{"same metadata", map[string]string{"size": "M"}, false},
		{"changed metadata", map[string]string{"size": "L"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := DiffLineItems(current, []DesiredItem{{VariantID: "v1", Quantity: 1, Metadata: tt.metadata}})
			if got := len(diff.ToUpdate) == 1; got != tt.wantUpdate {
				t.Errorf("update = %v, want %v", got, tt.wantUpdate)
			}
		})
	}
}

func TestShippingChanged(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		desired  string
		expected bool
	}{
		{"empty to value", "", "so_1", true},
		{"value to different", "so_1", "so_2", true},
		{"same value", "so_1", "so_1", false},
		{"value to empty", "so_1", "", false}, // empty desired = no change requested
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ShippingChanged(tt.current, tt.desired)
			if result != tt.expected {
				t.Errorf("ShippingChanged(%q, %q) = %v, want %v",
					tt.current, tt.desired, result, tt.expected)
			}
		})
	}
}

func TestLineItemDiff_IsEmpty(t *testing.T) {
	if !(&LineItemDiff{}).IsEmpty() {
		t.Error("Expected empty diff to report IsEmpty=true")
	}
	if (&LineItemDiff{ToAdd: []ItemToAdd{{VariantID: "v1"}}}).IsEmpty() {
		t.Error("Expected diff with adds to report IsEmpty=false")
	}
	if (&LineItemDiff{ToRemove: []ItemToRemove{{LineID: "l"}}}).IsEmpty() {
		t.Error("Expected diff with removes to report IsEmpty=false")
	}
	if (&LineItemDiff{ToUpdate: []ItemToUpdate{{LineID: "l"}}}).IsEmpty() {
		t.Error("Expected diff with updates to report IsEmpty=false")
	}
}
