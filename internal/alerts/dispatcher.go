package alerts

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/config"
	"github.com/ygarg25/hyperliquid-exporter/internal/detector"
	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
	"github.com/ygarg25/hyperliquid-exporter/internal/registry"
	"github.com/ygarg25/hyperliquid-exporter/internal/utils"
)

// Dispatcher turns detector events into notifications for their declared
// audiences. A channel failure never propagates back into detection.
type Dispatcher struct {
	notifier      Notifier
	registry      *registry.Registry
	chain         string
	globalTags    []string
	validatorTags map[string][]string
}

func NewDispatcher(cfg config.AlertsConfig, chain string, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		notifier:      NewNotifier(cfg),
		registry:      reg,
		chain:         chain,
		globalTags:    cfg.Tags,
		validatorTags: cfg.ValidatorTags,
	}
}

// NewDispatcherWith wires an explicit notifier; tests use it to capture
// messages instead of delivering them.
func NewDispatcherWith(n Notifier, cfg config.AlertsConfig, chain string, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		notifier:      n,
		registry:      reg,
		chain:         chain,
		globalTags:    cfg.Tags,
		validatorTags: cfg.ValidatorTags,
	}
}

// Dispatch routes one event to every audience it maps to.
func (d *Dispatcher) Dispatch(ctx context.Context, ev detector.Event) {
	audiences, ok := eventAudiences[ev.Type]
	if !ok {
		logger.Warn("ALERT", "No audience mapping for event %q, dropping", ev.Type)
		return
	}
	for _, aud := range audiences {
		msg := d.format(ev, aud)
		if err := d.notifier.Notify(ctx, msg); err != nil {
			logger.Warn("ALERT", "Delivery incomplete for %s/%s: %v", ev.Type, aud, err)
		}
	}
}

func (d *Dispatcher) format(ev detector.Event, aud Audience) Message {
	name := ev.Name
	if name == "" {
		name = d.registry.DisplayName(ev.Validator)
	}
	escName := html.EscapeString(name)

	var b strings.Builder
	if tags := d.tagLine(name); tags != "" && aud == AudienceTargeted {
		b.WriteString(tags)
		b.WriteString("\n\n")
	}

	var title, voice string
	switch ev.Type {
	case detector.EventJailed:
		title = fmt.Sprintf("%s jailed on %s", name, d.chain)
		fmt.Fprintf(&b, "🚨 <b>%s Validator Alert (%s):</b>\n", escName, d.chain)
		fmt.Fprintf(&b, "Is Jailed: <code>true</code>\n")
		fmt.Fprintf(&b, "Stake: <code>%s</code>\n", utils.FormatStake(ev.Stake))
		fmt.Fprintf(&b, "Recent Blocks: <code>%d</code>\n", ev.RecentBlocks)
		if !ev.UnjailAt.IsZero() {
			fmt.Fprintf(&b, "Time left until unjail attempt: <code>%d minutes</code>\n", minutesUntil(ev.UnjailAt, ev.Timestamp))
		} else if aud == AudienceBroadcast {
			b.WriteString("Please investigate immediately!\n")
		}
		if aud == AudienceTargeted {
			voice = fmt.Sprintf("Alert. Hyperliquid validator %s has been jailed on %s.", name, d.chain)
		}

	case detector.EventRecovered:
		title = fmt.Sprintf("%s recovered on %s", name, d.chain)
		downFor := ev.Timestamp.Sub(ev.JailedSince).Round(time.Second)
		fmt.Fprintf(&b, "💚 <b>%s</b> is no longer jailed (down %v).\n", escName, downFor)

	case detector.EventRemediationScheduled:
		title = fmt.Sprintf("Unjail scheduled for %s", name)
		fmt.Fprintf(&b, "⏳ Unjail attempt for <b>%s</b> scheduled in <code>%d minutes</code>.\n", escName, minutesUntil(ev.UnjailAt, ev.Timestamp))

	case detector.EventRemediationSucceeded:
		title = fmt.Sprintf("Unjailed %s", name)
		fmt.Fprintf(&b, "✅ Successfully unjailed <b>%s</b> (attempt %d).\n", escName, ev.Attempt)

	case detector.EventRemediationFailed:
		title = fmt.Sprintf("Unjail FAILED for %s", name)
		fmt.Fprintf(&b, "❌ Failed to unjail <b>%s</b> after %d attempts. Manual intervention required.\n", escName, ev.MaxAttempts)
		if aud == AudienceTargeted {
			voice = fmt.Sprintf("Critical. Automatic unjail for validator %s has failed after %d attempts. Manual intervention required.", name, ev.MaxAttempts)
		}

	default:
		title = string(ev.Type)
		fmt.Fprintf(&b, "%s: %s", ev.Type, escName)
	}

	return Message{Audience: aud, Title: title, Text: strings.TrimRight(b.String(), "\n"), Voice: voice}
}

// DispatchSummary sends the aggregate roster status to the broadcast
// audience: totals, jailed names, and tagged operators.
func (d *Dispatcher) DispatchSummary(ctx context.Context, roster *hlapi.Roster) {
	total := len(roster.Validators)
	jailed := roster.Jailed()
	active := total - len(jailed)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Validator Summary (%s):</b>\n", d.chain)
	fmt.Fprintf(&b, "Total Validators: <code>%d</code>\n", total)
	fmt.Fprintf(&b, "Active Validators: <code>%d</code>\n", active)
	fmt.Fprintf(&b, "Jailed Validators: <code>%d</code>\n", len(jailed))

	if len(jailed) > 0 {
		b.WriteString("\n<b>Jailed Validator Names:</b>\n")
		for _, v := range jailed {
			fmt.Fprintf(&b, "• %s\n", html.EscapeString(v.Name))
		}

		tagged := d.taggedJailed(jailed)
		if len(tagged) > 0 {
			b.WriteString("\n<b>Tagged Jailed Validators:</b>\n")
			names := make([]string, 0, len(tagged))
			for name := range tagged {
				names = append(names, name)
			}
			sort.Strings(names)
			attention := make(map[string]bool)
			for _, name := range names {
				fmt.Fprintf(&b, "%s: %s\n", html.EscapeString(name), strings.Join(tagged[name], ", "))
				for _, tag := range tagged[name] {
					attention[tag] = true
				}
			}
			tags := make([]string, 0, len(attention))
			for tag := range attention {
				tags = append(tags, tag)
			}
			sort.Strings(tags)
			fmt.Fprintf(&b, "\nAttention %s! Your validator(s) have been jailed. Please check and take necessary actions.", strings.Join(tags, ", "))
		}
	}

	msg := Message{
		Audience: AudienceBroadcast,
		Title:    fmt.Sprintf("Roster summary: %d/%d active", active, total),
		Text:     strings.TrimRight(b.String(), "\n"),
	}
	if err := d.notifier.Notify(ctx, msg); err != nil {
		logger.Warn("ALERT", "Summary delivery incomplete: %v", err)
	}
}

func (d *Dispatcher) taggedJailed(jailed []hlapi.ValidatorSummary) map[string][]string {
	tagged := make(map[string][]string)
	for _, v := range jailed {
		if tags, ok := d.validatorTags[v.Name]; ok && len(tags) > 0 {
			tagged[v.Name] = tags
		}
	}
	return tagged
}

func (d *Dispatcher) tagLine(validatorName string) string {
	tags := append([]string{}, d.globalTags...)
	tags = append(tags, d.validatorTags[validatorName]...)
	if len(tags) == 0 {
		return ""
	}
	escaped := make([]string, 0, len(tags))
	for _, t := range tags {
		escaped = append(escaped, html.EscapeString(t))
	}
	return strings.Join(escaped, " ")
}

func minutesUntil(t, now time.Time) int {
	m := int(t.Sub(now).Minutes())
	if m < 0 {
		return 0
	}
	return m
}
