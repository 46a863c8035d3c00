package monitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ygarg25/hyperliquid-exporter/internal/alerts"
	"github.com/ygarg25/hyperliquid-exporter/internal/config"
	"github.com/ygarg25/hyperliquid-exporter/internal/detector"
	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
	"github.com/ygarg25/hyperliquid-exporter/internal/metrics"
	"github.com/ygarg25/hyperliquid-exporter/internal/registry"
	"github.com/ygarg25/hyperliquid-exporter/internal/unjail"
)

// Monitor runs the poll loop: fetch the roster, diff it through the
// detector, dispatch the resulting events, and keep the remediation
// scheduler in sync with what the chain reports.
type Monitor struct {
	cfg        *config.Config
	client     *hlapi.Client
	det        *detector.Detector
	reg        *registry.Registry
	dispatcher *alerts.Dispatcher
	scheduler  *unjail.Scheduler
	exporter   *metrics.Exporter
	store      *detector.StateStore

	remediable  string // normalized address remediation is armed for, empty if disabled
	watch       map[string]bool
	cron        *cron.Cron
	cycle       int
	broadcaster Broadcaster
}

// Broadcaster pushes a fresh state snapshot to dashboard clients after
// each poll.
type Broadcaster interface {
	BroadcastUpdate(ctx context.Context)
}

func New(cfg *config.Config, client *hlapi.Client, det *detector.Detector, reg *registry.Registry,
	dispatcher *alerts.Dispatcher, scheduler *unjail.Scheduler, exporter *metrics.Exporter,
	store *detector.StateStore) *Monitor {

	m := &Monitor{
		cfg:        cfg,
		client:     client,
		det:        det,
		reg:        reg,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		exporter:   exporter,
		store:      store,
		watch:      make(map[string]bool),
	}
	if cfg.Unjail.Enabled && cfg.Chain.ValidatorAddress != "" {
		m.remediable = hlapi.NormalizeAddress(cfg.Chain.ValidatorAddress)
	}
	if cfg.Chain.ValidatorAddress != "" {
		m.watch[hlapi.NormalizeAddress(cfg.Chain.ValidatorAddress)] = true
	}
	for _, v := range cfg.Chain.Validators {
		m.watch[hlapi.NormalizeAddress(v)] = true
	}
	return m
}

// Start restores persisted state, runs one poll immediately, then polls
// on the configured interval until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.restore(ctx)
	m.startSummaryCron(ctx)

	interval := m.cfg.Advanced.PollIntervalDuration()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger.Info("MONITOR", "Polling %s every %v (mode %s)", m.cfg.Chain.APIURL, interval, m.cfg.Chain.Mode)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	now := time.Now()
	m.exporter.RecordTick()
	roster, err := m.client.FetchRoster(ctx)
	if err != nil {
		m.exporter.RecordFetchFailure()
		logger.Error("MONITOR", "Roster fetch failed: %v", err)
		return
	}

	reload := m.cfg.Advanced.RegistryReloadCycles
	if reload <= 0 {
		reload = 1
	}
	if m.cycle%reload == 0 {
		m.reg.Refresh(roster)
		logger.Debug("MONITOR", "Registry refreshed: %d validators", m.reg.Len())
	}
	m.cycle++

	events := m.det.Observe(now, roster)
	for _, ev := range events {
		m.handle(ctx, roster, ev)
	}

	m.exporter.Update(roster, m.det.States())
	if err := m.store.Save(m.cfg.Chain.Name, m.det.Export()); err != nil {
		logger.Warn("MONITOR", "State save failed: %v", err)
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastUpdate(ctx)
	}
}

// SetBroadcaster attaches the dashboard. Must be called before Start.
func (m *Monitor) SetBroadcaster(b Broadcaster) { m.broadcaster = b }

func (m *Monitor) handle(ctx context.Context, roster *hlapi.Roster, ev detector.Event) {
	switch ev.Type {
	case detector.EventJailed:
		if ev.Validator == m.remediable {
			fireAt, created := m.arm(ctx, roster, ev)
			ev.UnjailAt = fireAt
			if m.shouldAlert(ev.Validator) {
				m.dispatcher.Dispatch(ctx, ev)
			}
			if created {
				m.dispatcher.Dispatch(ctx, detector.Event{
					Type:      detector.EventRemediationScheduled,
					Validator: ev.Validator,
					Name:      ev.Name,
					UnjailAt:  fireAt,
					Timestamp: ev.Timestamp,
				})
			}
			return
		}
		if m.shouldAlert(ev.Validator) {
			m.dispatcher.Dispatch(ctx, ev)
		}

	case detector.EventRecovered:
		m.scheduler.Cancel(ev.Validator)
		if m.shouldAlert(ev.Validator) {
			m.dispatcher.Dispatch(ctx, ev)
		}

	default:
		m.dispatcher.Dispatch(ctx, ev)
	}
}

// arm schedules remediation for the operator's own validator, honoring
// the network's unjailableAfter floor when the roster reports one.
func (m *Monitor) arm(ctx context.Context, roster *hlapi.Roster, ev detector.Event) (time.Time, bool) {
	var notBefore time.Time
	if v, ok := roster.Find(ev.Validator); ok && v.UnjailableAfter > 0 {
		notBefore = time.UnixMilli(v.UnjailableAfter)
	}
	return m.scheduler.Schedule(ctx, ev.Validator, ev.Name, ev.JailedSince, notBefore)
}

// shouldAlert applies the watch mode: "specific" alerts only on the
// configured validators, "all" and "both" alert on the whole roster.
func (m *Monitor) shouldAlert(address string) bool {
	switch m.cfg.Chain.Mode {
	case "specific":
		return m.watch[address]
	default:
		return true
	}
}

func (m *Monitor) restore(ctx context.Context) {
	entities, err := m.store.Load(m.cfg.Chain.Name)
	if err != nil {
		logger.Warn("MONITOR", "State restore failed: %v", err)
		return
	}
	if len(entities) == 0 {
		return
	}
	m.det.Restore(entities)
	logger.Info("MONITOR", "Restored %d jailed entities from state file", len(entities))

	// A restored jail for our own validator re-arms remediation with the
	// original jail time, so a restart does not reset the timer.
	if m.remediable == "" {
		return
	}
	snap, ok := entities[m.remediable]
	if ok && snap.Phase != detector.PhaseExhausted.String() && !snap.JailedSince.IsZero() {
		fireAt, created := m.scheduler.Schedule(ctx, m.remediable, snap.Name, snap.JailedSince, time.Time{})
		if created {
			logger.Info("MONITOR", "Re-armed remediation for %s at %s", snap.Name, fireAt.Format(time.RFC3339))
		}
	}
}

func (m *Monitor) startSummaryCron(ctx context.Context) {
	schedule := m.cfg.Alerts.SummarySchedule
	if schedule == "" {
		return
	}
	m.cron = cron.New()
	_, err := m.cron.AddFunc(schedule, func() {
		roster, err := m.client.FetchRoster(ctx)
		if err != nil {
			logger.Error("MONITOR", "Summary fetch failed: %v", err)
			return
		}
		m.dispatcher.DispatchSummary(ctx, roster)
	})
	if err != nil {
		logger.Error("MONITOR", "Invalid summary schedule %q: %v", schedule, err)
		return
	}
	m.cron.Start()
	logger.Info("MONITOR", "Roster summary scheduled: %q", schedule)
}

func (m *Monitor) shutdown() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	if err := m.store.Save(m.cfg.Chain.Name, m.det.Export()); err != nil {
		logger.Warn("MONITOR", "Final state save failed: %v", err)
	}
	m.scheduler.Wait()
	logger.Info("MONITOR", "Shutdown complete")
}
