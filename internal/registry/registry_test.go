package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
)

func roster(pairs ...[2]string) *hlapi.Roster {
	vals := make([]hlapi.ValidatorSummary, 0, len(pairs))
	for _, p := range pairs {
		vals = append(vals, hlapi.ValidatorSummary{Validator: p[0], Name: p[1], Stake: json.Number("1")})
	}
	return hlapi.NewRoster(vals)
}

func TestResolve_ByAddressAndName(t *testing.T) {
	r := New()
	r.Refresh(roster(
		[2]string{"0xD4120000000000000000000000000000D412b3f0", "alpha-node"},
		[2]string{"0xBEEF00000000000000000000000000000000BEEF", "beta-node"},
	))

	// Mixed-case address resolves to the canonical record.
	rec, ok := r.Resolve("0xd4120000000000000000000000000000d412B3F0")
	require.True(t, ok)
	assert.Equal(t, "alpha-node", rec.Name)

	// Names resolve case-insensitively.
	rec, ok = r.Resolve("BETA-NODE")
	require.True(t, ok)
	assert.Equal(t, "0xbeef00000000000000000000000000000000beef", rec.Address)

	_, ok = r.Resolve("unknown-node")
	assert.False(t, ok)
}

func TestRefresh_ReplacesWholesale(t *testing.T) {
	r := New()
	r.Refresh(roster([2]string{"0xD4120000000000000000000000000000D412b3f0", "alpha-node"}))
	require.Equal(t, 1, r.Len())

	// A refresh with a disjoint roster must evict the old entry.
	r.Refresh(roster([2]string{"0xBEEF00000000000000000000000000000000BEEF", "beta-node"}))
	assert.Equal(t, 1, r.Len())

	_, ok := r.Resolve("alpha-node")
	assert.False(t, ok, "evicted validator must not resolve")
	_, ok = r.Resolve("beta-node")
	assert.True(t, ok)
}

func TestDisplayName_FallsBackToTruncated(t *testing.T) {
	r := New()
	r.Refresh(roster([2]string{"0xD4120000000000000000000000000000D412b3f0", "alpha-node"}))

	assert.Equal(t, "alpha-node", r.DisplayName("0xD4120000000000000000000000000000D412b3f0"))
	assert.Equal(t, "0xbeef..beef", r.DisplayName("0xbeef00000000000000000000000000000000beef"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "0xd412..b3f0", Truncate("0xd4120000000000000000000000000000d412b3f0"))
	assert.Equal(t, "short", Truncate("short"))
}
