// Package lifecycle implements the Lifecycle Coordinator (C8) from spec.md
// §4.8: observes AppState and BatteryState, wires those transitions to the
// Config Manager's polling loop, the Session Manager's rotation triggers,
// and best-effort pipeline flush on shutdown. It is grounded on Design
// Notes §9's guidance to break the Coordinator<->Session Manager cyclic
// reference with a one-directional capability holder: the Coordinator
// holds a handle on the Session Manager and calls it directly, while the
// Session Manager has no reference back — there is nothing for it to call,
// so the "cycle" never exists in this implementation.
package lifecycle

import (
	"context"
	"sync/atomic"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/configmgr"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/session"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/telemetry"
)

// AppState mirrors spec.md §3.
type AppState int

const (
	AppForeground AppState = iota
	AppBackground
)

// BatteryState mirrors spec.md §3. IsLow is derived by the caller
// (IsLow ⇔ level ≤ 0.15 ∧ ¬is_charging) since battery readings come from
// the platform-specific collector spec.md scopes out of the core.
type BatteryState struct {
	Level      float64
	IsCharging bool
	IsLow      bool
}

// Options configures the Coordinator's reaction to background transitions.
type Options struct {
	DisableBackgroundPolling      bool
	SetOfflineOnBackground        bool
	UseReducedPollingWhenBatteryLow bool
}

// Coordinator is C8.
type Coordinator struct {
	opts      Options
	configMgr *configmgr.Manager
	sessions  *session.Manager
	pipelines *telemetry.Pipelines
	setOffline func(bool)

	appLaunchCount atomic.Int64
	initialized    atomic.Bool
}

// New constructs a Coordinator. setOffline is the Config Fetcher's
// SetOffline capability, injected rather than imported directly so this
// package depends only on the narrow function it needs.
func New(opts Options, configMgr *configmgr.Manager, sessions *session.Manager, pipelines *telemetry.Pipelines, setOffline func(bool)) *Coordinator {
	c := &Coordinator{
		opts:       opts,
		configMgr:  configMgr,
		sessions:   sessions,
		pipelines:  pipelines,
		setOffline: setOffline,
	}
	c.initialized.Store(true)
	return c
}

// OnAppForeground implements spec.md §4.8's background->foreground
// transition: resume polling, trigger an immediate settings check, notify
// the Session Manager (which may rotate), and bump the launch counter.
func (c *Coordinator) OnAppForeground() {
	c.configMgr.SetAppBackground(false)
	c.configMgr.Resume()
	c.configMgr.ForceCheck()
	if c.opts.SetOfflineOnBackground && c.setOffline != nil {
		c.setOffline(false)
	}
	c.sessions.OnForeground()
	c.appLaunchCount.Add(1)
}

// OnAppBackground implements the foreground->background transition: if
// DisableBackgroundPolling, pause polling and optionally go offline;
// notify the Session Manager, which starts its background timer.
func (c *Coordinator) OnAppBackground() {
	c.configMgr.SetAppBackground(true)
	if c.opts.DisableBackgroundPolling {
		c.configMgr.Pause()
		if c.opts.SetOfflineOnBackground && c.setOffline != nil {
			c.setOffline(true)
		}
	}
	c.sessions.OnBackground()
}

// OnBatteryChange implements the battery-transition rule: entering a low,
// not-charging state with UseReducedPollingWhenBatteryLow restarts polling
// at the reduced interval.
func (c *Coordinator) OnBatteryChange(state BatteryState) {
	c.configMgr.SetBatteryLow(state.IsLow && !state.IsCharging)
	if state.IsLow && !state.IsCharging && c.opts.UseReducedPollingWhenBatteryLow {
		c.configMgr.ForceCheck()
	}
}

// AppLaunchCount returns the number of foreground transitions observed.
// The count is kept on the Coordinator only; it is not written into any
// user property.
func (c *Coordinator) AppLaunchCount() int64 { return c.appLaunchCount.Load() }

// Shutdown flushes both pipelines best-effort, stops the Config Manager's
// polling loop, and clears the Session Manager's listeners, per spec.md
// §4.8.
func (c *Coordinator) Shutdown(ctx context.Context) {
	_ = c.pipelines.Shutdown(ctx)
	c.configMgr.Shutdown()
	c.sessions.Shutdown()
	c.initialized.Store(false)
}

// Initialized reports whether the Coordinator has not yet been shut down.
func (c *Coordinator) Initialized() bool { return c.initialized.Load() }
