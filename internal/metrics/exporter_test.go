package metrics

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ygarg25/hyperliquid-exporter/internal/detector"
	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
)

func testRoster() *hlapi.Roster {
	return hlapi.NewRoster([]hlapi.ValidatorSummary{
		{Validator: "0xa1", Name: "node-1", IsJailed: true, Stake: json.Number("1000"), NRecentBlocks: 0},
		{Validator: "0xa2", Name: "node-2", IsJailed: false, IsActive: true, Stake: json.Number("2000"), NRecentBlocks: 50},
	})
}

func TestUpdate_SetsRosterSeries(t *testing.T) {
	e := NewExporter("Testnet")
	e.Update(testRoster(), map[string]detector.StateView{
		"0xa1": {Validator: "0xa1", Phase: "jailed"},
	})

	if got := testutil.ToFloat64(e.totalValidators); got != 2 {
		t.Fatalf("total: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(e.jailedValidators); got != 1 {
		t.Fatalf("jailed: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(e.jailed.WithLabelValues("0xa1", "node-1")); got != 1 {
		t.Fatalf("jailed gauge: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(e.phase.WithLabelValues("0xa1")); got != 1 {
		t.Fatalf("phase gauge: expected 1 (jailed), got %v", got)
	}

	// The next update replaces the series; a removed validator must not
	// linger.
	e.Update(hlapi.NewRoster(nil), nil)
	if got := testutil.CollectAndCount(e.jailed); got != 0 {
		t.Fatalf("stale series survived reset: %d", got)
	}
}

func TestRecordTick_IndependentOfUpdate(t *testing.T) {
	e := NewExporter("Testnet")
	if got := testutil.ToFloat64(e.heartbeat); got != 0 {
		t.Fatalf("heartbeat must start unset, got %v", got)
	}

	// A tick with no successful roster update still moves the heartbeat,
	// so an API outage does not read as a dead loop.
	e.RecordTick()
	if got := testutil.ToFloat64(e.heartbeat); got <= 0 {
		t.Fatalf("heartbeat not set by RecordTick: %v", got)
	}
}
