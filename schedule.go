package memdb

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Start schedules the periodic jobs: backing store change checks, history
// reloads, NAV closes and the real-time tiers. Init must have returned.
func (m *MemDb) Start(ctx context.Context) error {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	logger := cron.PrintfLogger(m.log)
	c := cron.New(
		cron.WithLocation(m.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	add := func(spec string, job func()) error {
		if spec == "" {
			return nil
		}
		_, err := c.AddFunc(spec, job)
		return err
	}
	if err := add(m.cfg.Reload, func() {
		if _, err := m.Reload(ctx); err != nil && !IsReloadInProgress(err) {
			m.log.WithError(err).Warn("scheduled reload failed")
		}
	}); err != nil {
		cancel()
		return err
	}
	for _, spec := range m.cfg.History.Schedule {
		if err := add(spec, func() {
			if err := m.ReloadHistory(ctx); err != nil && !IsReloadInProgress(err) {
				m.log.WithError(err).Warn("scheduled history reload failed")
			}
		}); err != nil {
			cancel()
			return err
		}
	}
	if err := add(m.cfg.NavCloses, func() {
		if _, err := m.SaveNavCloses(ctx); err != nil {
			m.log.WithError(err).Warn("NAV closes not saved")
		}
	}); err != nil {
		cancel()
		return err
	}
	c.Start()
	m.cron, m.cancel = c, cancel
	if m.rt != nil {
		m.rt.Start(ctx)
	}
	m.log.Infof("%d jobs scheduled", len(c.Entries()))
	return nil
}

// Stop cancels the running jobs and waits for them.
func (m *MemDb) Stop() {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron == nil {
		return
	}
	if m.rt != nil {
		m.rt.Stop()
	}
	m.cancel()
	<-m.cron.Stop().Done()
	m.cron = nil
}
