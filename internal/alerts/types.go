package alerts

import "github.com/ygarg25/hyperliquid-exporter/internal/detector"

// Audience selects who a message is for: the operators of one specific
// validator, or the shared roster-wide channel.
type Audience string

const (
	AudienceTargeted  Audience = "targeted"
	AudienceBroadcast Audience = "broadcast"
)

// Message is one formatted notification. Text is Telegram-flavored HTML;
// Voice, when set, is the spoken script for call channels.
type Message struct {
	Audience Audience
	Title    string
	Text     string
	Voice    string
}

// eventAudiences is the declared event -> audience routing. Jail events
// go everywhere; recovery and remediation progress concern only the
// validator's own operators; exhaustion needs humans, so it goes wide too.
var eventAudiences = map[detector.EventType][]Audience{
	detector.EventJailed:               {AudienceTargeted, AudienceBroadcast},
	detector.EventRecovered:            {AudienceTargeted},
	detector.EventRemediationScheduled: {AudienceTargeted},
	detector.EventRemediationSucceeded: {AudienceTargeted},
	detector.EventRemediationFailed:    {AudienceTargeted, AudienceBroadcast},
	detector.EventRosterSummary:        {AudienceBroadcast},
}
