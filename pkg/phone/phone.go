package phone

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// NormalizeE164 parses raw against the default region (ISO 3166 alpha-2) and
// returns it in E.164 form. Numbers already carrying a +country prefix ignore region.
func NormalizeE164(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("phone number is required")
	}
	num, err := libphonenumber.Parse(raw, strings.ToUpper(strings.TrimSpace(region)))
	if err != nil {
		return "", fmt.Errorf("parse phone number: %w", err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
