// Package reconcile computes the mutations that turn the current cart into a
// desired basket. The cart store fetches current state, diffs, and executes
// only the necessary line-item calls.
package reconcile

import "sort"

// LineItemDiff describes the mutations needed to reconcile line items.
// Operations should be applied in order: Remove → Update → Add
// so a replaced line never collides with its successor.
type LineItemDiff struct {
	ToRemove []ItemToRemove // Lines in current but not desired
	ToUpdate []ItemToUpdate // Variants in both with different quantity or metadata
	ToAdd    []ItemToAdd    // Variants in desired but not current
}

// ItemToAdd specifies a new line.
type ItemToAdd struct {
	VariantID string
	Quantity  int
	Metadata  map[string]string
}

// ItemToRemove specifies a line to delete.
type ItemToRemove struct {
	VariantID string // For logging
	LineID    string
}

// ItemToUpdate specifies a change to an existing line.
type ItemToUpdate struct {
	VariantID   string
	LineID      string
	OldQuantity int
	NewQuantity int
	Metadata    map[string]string
}

// IsEmpty returns true if no line item changes are needed.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// Len is the number of backend calls the diff needs.
func (d *LineItemDiff) Len() int {
	return len(d.ToAdd) + len(d.ToRemove) + len(d.ToUpdate)
}

// CurrentItem is a line as the backend holds it.
type CurrentItem struct {
	LineID    string
	VariantID string
	Quantity  int
	Metadata  map[string]string
}

// DesiredItem is a line the caller wants. Quantity <= 0 means "not in the cart".
type DesiredItem struct {
	VariantID string
	Quantity  int
	Metadata  map[string]string
}

// DiffLineItems computes the delta between current and desired line items.
// Matching is by variant. When the backend holds several lines for one
// variant, the first is kept and the rest are removed. Desired entries for
// the same variant are merged, last metadata wins. Output order is
// deterministic (by variant, then line).
func DiffLineItems(current []CurrentItem, desired []DesiredItem) *LineItemDiff {
	diff := &LineItemDiff{}

	currentByVariant := make(map[string]CurrentItem, len(current))
	for _, item := range current {
		if _, dup := currentByVariant[item.VariantID]; dup {
			diff.ToRemove = append(diff.ToRemove, ItemToRemove{VariantID: item.VariantID, LineID: item.LineID})
			continue
		}
		currentByVariant[item.VariantID] = item
	}

	desiredByVariant := make(map[string]DesiredItem, len(desired))
	for _, item := range desired {
		if prev, ok := desiredByVariant[item.VariantID]; ok {
			item.Quantity += prev.Quantity
			if item.Metadata == nil {
				item.Metadata = prev.Metadata
			}
		}
		desiredByVariant[item.VariantID] = item
	}

	for variant, want := range desiredByVariant {
		have, exists := currentByVariant[variant]
		switch {
		case want.Quantity <= 0:
			// Handled by the removal pass.
		case !exists:
			diff.ToAdd = append(diff.ToAdd, ItemToAdd{
				VariantID: variant,
				Quantity:  want.Quantity,
				Metadata:  want.Metadata,
			})
		case have.Quantity != want.Quantity || (want.Metadata != nil && !sameMetadata(have.Metadata, want.Metadata)):
			diff.ToUpdate = append(diff.ToUpdate, ItemToUpdate{
				VariantID:   variant,
				LineID:      have.LineID,
				OldQuantity: have.Quantity,
				NewQuantity: want.Quantity,
				Metadata:    want.Metadata,
			})
		}
	}

	for variant, have := range currentByVariant {
		if want, ok := desiredByVariant[variant]; !ok || want.Quantity <= 0 {
			diff.ToRemove = append(diff.ToRemove, ItemToRemove{VariantID: variant, LineID: have.LineID})
		}
	}

	sort.Slice(diff.ToRemove, func(i, j int) bool {
		if diff.ToRemove[i].VariantID == diff.ToRemove[j].VariantID {
			return diff.ToRemove[i].LineID < diff.ToRemove[j].LineID
		}
		return diff.ToRemove[i].VariantID < diff.ToRemove[j].VariantID
	})
	sort.Slice(diff.ToUpdate, func(i, j int) bool { return diff.ToUpdate[i].VariantID < diff.ToUpdate[j].VariantID })
	sort.Slice(diff.ToAdd, func(i, j int) bool { return diff.ToAdd[i].VariantID < diff.ToAdd[j].VariantID })

	return diff
}

func sameMetadata(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// ShippingChanged returns true if a shipping option must be (re)bound.
// Simple comparison - no complex diffing needed.
func ShippingChanged(currentOptionID, desiredOptionID string) bool {
	return desiredOptionID != "" && currentOptionID != desiredOptionID
}
