package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Address is a postal address stored as a JSON document.
type Address struct {
	Name       string  `json:"name" validate:"required"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country" validate:"required,len=2"`
	Phone      string  `json:"phone,omitempty"`
}

// Normalized returns a copy with trimmed fields and an upper-case country code.
func (a Address) Normalized() Address {
	out := a
	out.Name = strings.TrimSpace(a.Name)
	out.Line1 = strings.TrimSpace(a.Line1)
	out.City = strings.TrimSpace(a.City)
	out.State = strings.TrimSpace(a.State)
	out.PostalCode = strings.TrimSpace(a.PostalCode)
	out.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	out.Phone = strings.TrimSpace(a.Phone)
	if a.Line2 != nil {
		line2 := strings.TrimSpace(*a.Line2)
		out.Line2 = &line2
	}
	return out
}

// SameLocation compares the fields that identify where goods are shipped.
func (a Address) SameLocation(other Address) bool {
	left, right := a.Normalized(), other.Normalized()
	return strings.EqualFold(left.Line1, right.Line1) &&
		strings.EqualFold(left.City, right.City) &&
		strings.EqualFold(left.PostalCode, right.PostalCode) &&
		left.Country == right.Country
}

// Value implements driver.Valuer.
func (a Address) Value() (driver.Value, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("address: marshal %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (a *Address) Scan(value interface{}) error {
	if value == nil {
		*a = Address{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("address: unsupported scan type %T", value)
	}
	return json.Unmarshal(raw, a)
}
