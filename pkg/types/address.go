package types

import "strings"

// AddressSnapshot is the shipping address captured at checkout time. It is
// stored as JSON on the order group so later edits to the live address never
// rewrite history.
type AddressSnapshot struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// IsZero reports whether the snapshot carries no address at all.
func (a AddressSnapshot) IsZero() bool {
	return strings.TrimSpace(a.Line1) == "" && strings.TrimSpace(a.City) == ""
}
