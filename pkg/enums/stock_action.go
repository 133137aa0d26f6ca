package enums

import "fmt"

// StockAction labels an inventory movement.
type StockAction string

const (
	StockActionInitial StockAction = "initial"
	StockActionAdd     StockAction = "add"
	StockActionRemove  StockAction = "remove"
)

var validStockActions = []StockAction{
	StockActionInitial,
	StockActionAdd,
	StockActionRemove,
}

// String implements fmt.Stringer.
func (s StockAction) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StockAction.
func (s StockAction) IsValid() bool {
	for _, candidate := range validStockActions {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStockAction converts raw input into a StockAction.
func ParseStockAction(value string) (StockAction, error) {
	for _, candidate := range validStockActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock action %q", value)
}
