package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressScanRoundTrip(t *testing.T) {
	line2 := "Apt 4"
	addr := Address{Name: "Ada", Line1: "1 Loom St", Line2: &line2, City: "Austin", State: "TX", PostalCode: "78701", Country: "US"}

	value, err := addr.Value()
	require.NoError(t, err)

	var scanned Address
	require.NoError(t, scanned.Scan(value))
	require.Equal(t, addr, scanned)

	require.NoError(t, scanned.Scan(nil))
	require.Equal(t, Address{}, scanned)
	require.Error(t, scanned.Scan(42))
}

func TestAddressSameLocation(t *testing.T) {
	a := Address{Line1: "1 Loom St", City: "Austin", PostalCode: "78701", Country: "us"}
	b := Address{Line1: " 1 loom st", City: "AUSTIN", PostalCode: "78701 ", Country: "US", Name: "other"}
	c := Address{Line1: "9 Needle Ave", City: "Austin", PostalCode: "78702", Country: "US"}

	require.True(t, a.SameLocation(b))
	require.False(t, a.SameLocation(c))
}
