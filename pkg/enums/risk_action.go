package enums

import "fmt"

// RiskAction gates the payment step.
type RiskAction string

const (
	RiskActionAllow     RiskAction = "allow"
	RiskActionChallenge RiskAction = "challenge"
	RiskActionBlock     RiskAction = "block"
)

var validRiskActions = []RiskAction{
	RiskActionAllow,
	RiskActionChallenge,
	RiskActionBlock,
}

// String implements fmt.Stringer.
func (r RiskAction) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RiskAction.
func (r RiskAction) IsValid() bool {
	for _, candidate := range validRiskActions {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRiskAction converts raw input into a RiskAction.
func ParseRiskAction(value string) (RiskAction, error) {
	for _, candidate := range validRiskActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid risk action %q", value)
}
