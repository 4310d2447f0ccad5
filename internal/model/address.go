package model

import "strings"

// AddressType labels an address in the UI.
type AddressType string

const (
	AddressHome   AddressType = "home"
	AddressOffice AddressType = "office"
	AddressOther  AddressType = "other"
)

// Address is the UI-normalized address. The backend shape (first/last name,
// address_1/2, province, postal_code) is converted at the client edge.
//
// Address is comparable so synchronizers can detect "unchanged" with ==.
type Address struct {
	ID          string      `json:"id,omitempty"`
	Type        AddressType `json:"type,omitempty"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name,omitempty"`
	Phone       string      `json:"phone"`
	Street      string      `json:"street"`
	Landmark    string      `json:"landmark,omitempty"`
	City        string      `json:"city"`
	Province    string      `json:"province"`
	PostalCode  string      `json:"postal_code"`
	CountryCode string      `json:"country_code"`
	IsDefault   bool        `json:"is_default,omitempty"`
}

// Name is the display name shown on address cards.
func (a Address) Name() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// IsZero reports whether no user-editable field has been filled in.
func (a Address) IsZero() bool {
	a.ID = ""
	a.Type = ""
	a.IsDefault = false
	return a == Address{}
}

// MissingFields lists required fields that are blank.
// Last name, landmark and country are optional.
func (a Address) MissingFields() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"first_name", a.FirstName},
		{"street", a.Street},
		{"city", a.City},
		{"province", a.Province},
		{"postal_code", a.PostalCode},
		{"phone", a.Phone},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// IsComplete reports whether every required field is present.
func (a Address) IsComplete() bool {
	return len(a.MissingFields()) == 0
}

// SameLocation compares the user-visible fields, ignoring ID and flags.
func (a Address) SameLocation(b Address) bool {
	a.ID, b.ID = "", ""
	a.IsDefault, b.IsDefault = false, false
	return a == b
}
