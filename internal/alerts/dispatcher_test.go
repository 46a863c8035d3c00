package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/config"
	"github.com/ygarg25/hyperliquid-exporter/internal/detector"
	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
	"github.com/ygarg25/hyperliquid-exporter/internal/registry"
)

type captureNotifier struct {
	messages []Message
	err      error
}

func (c *captureNotifier) Notify(_ context.Context, msg Message) error {
	c.messages = append(c.messages, msg)
	return c.err
}

func testDispatcher(n Notifier) *Dispatcher {
	cfg := config.AlertsConfig{
		Tags: []string{"@oncall"},
		ValidatorTags: map[string][]string{
			"node-1": {"@alice", "@bob"},
		},
	}
	return NewDispatcherWith(n, cfg, "Testnet", registry.New())
}

func jailedEvent(ts time.Time) detector.Event {
	return detector.Event{
		Type:         detector.EventJailed,
		Validator:    "0xabc0000000000000000000000000000000000001",
		Name:         "node-1",
		Stake:        "2500000",
		RecentBlocks: 0,
		JailedSince:  ts,
		UnjailAt:     ts.Add(30 * time.Minute),
		Timestamp:    ts,
	}
}

/*
TestDispatch_JailedRouting checks the fan-out for a jail event:

 1) Both audiences receive a message.
 2) The targeted copy carries operator tags and a voice script.
 3) The broadcast copy carries neither.
*/
func TestDispatch_JailedRouting(t *testing.T) {
	n := &captureNotifier{}
	d := testDispatcher(n)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d.Dispatch(context.Background(), jailedEvent(ts))

	if len(n.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(n.messages))
	}

	var targeted, broadcast *Message
	for i := range n.messages {
		switch n.messages[i].Audience {
		case AudienceTargeted:
			targeted = &n.messages[i]
		case AudienceBroadcast:
			broadcast = &n.messages[i]
		}
	}
	if targeted == nil || broadcast == nil {
		t.Fatalf("expected one message per audience, got %+v", n.messages)
	}

	// 2) Targeted copy: tags, formatted stake, countdown, voice script.
	if !strings.Contains(targeted.Text, "@oncall") || !strings.Contains(targeted.Text, "@alice") {
		t.Fatalf("targeted message missing tags:\n%s", targeted.Text)
	}
	if !strings.Contains(targeted.Text, "2,500,000") {
		t.Fatalf("targeted message missing formatted stake:\n%s", targeted.Text)
	}
	if !strings.Contains(targeted.Text, "30 minutes") {
		t.Fatalf("targeted message missing unjail countdown:\n%s", targeted.Text)
	}
	if targeted.Voice == "" || !strings.Contains(targeted.Voice, "node-1") {
		t.Fatalf("targeted jail alert must carry a voice script, got %q", targeted.Voice)
	}

	// 3) Broadcast copy: no operator tags, no voice.
	if strings.Contains(broadcast.Text, "@oncall") {
		t.Fatalf("broadcast message must not carry tags:\n%s", broadcast.Text)
	}
	if broadcast.Voice != "" {
		t.Fatalf("broadcast message must not trigger calls, got %q", broadcast.Voice)
	}
}

func TestDispatch_RecoveredIsTargetedOnly(t *testing.T) {
	n := &captureNotifier{}
	d := testDispatcher(n)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d.Dispatch(context.Background(), detector.Event{
		Type:        detector.EventRecovered,
		Validator:   "0xabc0000000000000000000000000000000000001",
		Name:        "node-1",
		JailedSince: ts.Add(-45 * time.Minute),
		Timestamp:   ts,
	})

	if len(n.messages) != 1 || n.messages[0].Audience != AudienceTargeted {
		t.Fatalf("recovery must go to the targeted audience only, got %+v", n.messages)
	}
	if !strings.Contains(n.messages[0].Text, "45m") {
		t.Fatalf("recovery message missing downtime:\n%s", n.messages[0].Text)
	}
}

func TestDispatch_FailureIsolated(t *testing.T) {
	// A failing channel must not panic or stop the dispatch of the
	// remaining audiences; the error is logged and swallowed.
	n := &captureNotifier{err: errors.New("telegram down")}
	d := testDispatcher(n)

	d.Dispatch(context.Background(), jailedEvent(time.Now()))
	if len(n.messages) != 2 {
		t.Fatalf("both audiences must still be attempted, got %d", len(n.messages))
	}
}

func TestDispatchSummary(t *testing.T) {
	n := &captureNotifier{}
	d := testDispatcher(n)

	roster := hlapi.NewRoster([]hlapi.ValidatorSummary{
		{Validator: "0xa1", Name: "node-1", IsJailed: true, Stake: json.Number("1")},
		{Validator: "0xa2", Name: "node-2", IsJailed: false, IsActive: true, Stake: json.Number("1")},
		{Validator: "0xa3", Name: "node-3", IsJailed: true, Stake: json.Number("1")},
	})

	d.DispatchSummary(context.Background(), roster)

	if len(n.messages) != 1 {
		t.Fatalf("expected 1 summary message, got %d", len(n.messages))
	}
	msg := n.messages[0]
	if msg.Audience != AudienceBroadcast {
		t.Fatalf("summary must broadcast, got %s", msg.Audience)
	}
	for _, want := range []string{
		"Total Validators: <code>3</code>",
		"Jailed Validators: <code>2</code>",
		"node-1",
		"node-3",
		"Attention @alice, @bob!",
	} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("summary missing %q:\n%s", want, msg.Text)
		}
	}
	// node-2 is healthy; it appears in no jailed section.
	if strings.Contains(msg.Text, "node-2") {
		t.Fatalf("healthy validator listed as jailed:\n%s", msg.Text)
	}
}

func TestFormatPhoneNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+14155550100", "+14155550100", false},
		{"9876543210", "+919876543210", false},
		{"919876543210", "+919876543210", false},
		{"09876543210", "+919876543210", false},
		{"98765-43210", "+919876543210", false},
		{"12345", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := FormatPhoneNumber(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("FormatPhoneNumber(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("FormatPhoneNumber(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("FormatPhoneNumber(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
