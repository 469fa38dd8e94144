// Package configmgr implements the Config Manager (C6), the polling
// scheduler from spec.md §4.6: periodic SDK-settings checks, change
// detection, the live copy-on-write flag map, per-key/all-flags/connection
// listener dispatch, and app/battery-adaptive polling intervals. It is
// grounded on the teacher's config.ReloadCoordinator (atomic.Value holding
// the current config, diff-then-notify) and config.update_diff.go's
// structural comparator, both trimmed from a general nested-map differ
// with secret sanitization down to spec.md's fixed field whitelist plus a
// reflect.DeepEqual fallback — SDK settings carry no secrets to sanitize.
package configmgr

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/cache"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/configmodel"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/fetcher"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/value"
)

// PollState is the polling loop's current position, per spec.md §4.6.
type PollState int

const (
	PollIdle PollState = iota
	PollScheduled
	PollRunning
	PollPaused
)

func (s PollState) String() string {
	switch s {
	case PollScheduled:
		return "scheduled"
	case PollRunning:
		return "running"
	case PollPaused:
		return "paused"
	default:
		return "idle"
	}
}

// ConnectionStatus mirrors spec.md §3's ConnectionStatus enum.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusOffline
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusOffline:
		return "offline"
	default:
		return "disconnected"
	}
}

// ConnectionInfo is delivered to connection-status listeners, per spec.md
// §4.6's listener model.
type ConnectionInfo struct {
	FailureCount int
	LastError    error
	NextRetryAt  time.Time
}

// KeyListener observes a single flag key's changes.
type KeyListener func(old, new *configmodel.Record)

// AllFlagsListener observes the entire Config map.
type AllFlagsListener func(cfg configmodel.Config)

// ConnectionListener observes connection-status transitions.
type ConnectionListener func(status ConnectionStatus, info ConnectionInfo)

// SummarySink receives a push for every evaluation that resolved to a
// server-provided value, keyed by (flag key, variation_id), per spec.md
// §4.6. Implemented by internal/telemetry's summary pipeline.
type SummarySink interface {
	PushSummary(flagKey, variationID string, sessionID string)
}

// Timing holds the base/reduced/background polling intervals spec.md §4.6
// and the configuration table in §6 name.
type Timing struct {
	BaseInterval               time.Duration
	BackgroundInterval         time.Duration
	ReducedInterval            time.Duration
	DisableBackgroundPolling   bool
	UseReducedPollingOnLowBattery bool
}

// DefaultTiming returns reasonable defaults.
func DefaultTiming() Timing {
	return Timing{
		BaseInterval:       60 * time.Second,
		BackgroundInterval: 5 * time.Minute,
		ReducedInterval:    2 * time.Minute,
	}
}

// Manager is the Config Manager (C6).
type Manager struct {
	fetcher  *fetcher.Fetcher
	cache    *cache.Cache
	clk      clock.Clock
	logger   *slog.Logger
	timing   Timing
	summary  SummarySink

	config        atomic.Pointer[configmodel.Config]
	lastSettings  atomic.Pointer[fetcher.SdkSettings]
	gateOpen      atomic.Bool // true when evaluations are gated off (skip_sdk or account disabled)

	state       atomic.Int32 // PollState
	stop        chan struct{}
	wake        chan struct{}
	wg          sync.WaitGroup

	appBackground atomic.Bool
	batteryLow    atomic.Bool

	currentSessionID atomic.Pointer[string]

	keyListenersMu sync.Mutex
	keyListeners   map[string][]KeyListener
	allListenersMu sync.Mutex
	allListeners   []AllFlagsListener
	connListenersMu sync.Mutex
	connListeners   []ConnectionListener

	failureCount atomic.Int32
}

// New constructs a Manager with an empty Config until the first refresh.
func New(f *fetcher.Fetcher, c *cache.Cache, clk clock.Clock, logger *slog.Logger, timing Timing, summary SummarySink) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		fetcher:      f,
		cache:        c,
		clk:          clk,
		logger:       logger,
		timing:       timing,
		summary:      summary,
		stop:         make(chan struct{}),
		wake:         make(chan struct{}, 1),
		keyListeners: make(map[string][]KeyListener),
	}
	empty := configmodel.Config{}
	m.config.Store(&empty)
	return m
}

// SetSessionID records the Session Manager's current id, which is attached
// to every pushed summary. The caller pushes the id in, so configmgr needs no
// import of the session package.
func (m *Manager) SetSessionID(id string) {
	m.currentSessionID.Store(&id)
}

func (m *Manager) sessionID() string {
	if p := m.currentSessionID.Load(); p != nil {
		return *p
	}
	return ""
}

// Start launches the periodic polling loop.
func (m *Manager) Start(ctx context.Context) {
	m.state.Store(int32(PollScheduled))
	m.wg.Add(1)
	go m.loop(ctx)
}

// Shutdown stops the polling loop.
func (m *Manager) Shutdown() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		interval := m.currentInterval()
		if interval <= 0 {
			// Background polling disabled while backgrounded: wait for an
			// explicit wake (foreground transition) instead of a timer.
			select {
			case <-m.stop:
				return
			case <-m.wake:
				if m.currentInterval() > 0 {
					m.tick(ctx)
				}
				continue
			}
		}

		select {
		case <-m.stop:
			return
		case <-m.wake:
			m.tick(ctx)
		case <-m.clk.After(interval):
			m.tick(ctx)
		}
	}
}

func (m *Manager) currentInterval() time.Duration {
	if PollState(m.state.Load()) == PollPaused {
		return -1
	}
	if m.appBackground.Load() {
		if m.timing.DisableBackgroundPolling {
			return -1
		}
		if m.batteryLow.Load() && m.timing.UseReducedPollingOnLowBattery {
			return m.timing.ReducedInterval
		}
		return m.timing.BackgroundInterval
	}
	return m.timing.BaseInterval
}

// ForceCheck requests an immediate out-of-band settings check, used by the
// Lifecycle Coordinator on foreground transitions.
func (m *Manager) ForceCheck() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Pause stops the polling loop from firing; Resume re-enables it and wakes
// it immediately.
func (m *Manager) Pause() { m.state.Store(int32(PollPaused)) }
func (m *Manager) Resume() {
	m.state.Store(int32(PollScheduled))
	m.ForceCheck()
}

// SetAppBackground and SetBatteryLow feed the Lifecycle Coordinator's
// observations into the interval calculation.
func (m *Manager) SetAppBackground(v bool) { m.appBackground.Store(v) }
func (m *Manager) SetBatteryLow(v bool)    { m.batteryLow.Store(v) }

func (m *Manager) tick(ctx context.Context) {
	if PollState(m.state.Load()) == PollPaused {
		return
	}
	m.state.Store(int32(PollRunning))
	defer func() {
		if PollState(m.state.Load()) == PollRunning {
			m.state.Store(int32(PollScheduled))
		}
	}()

	settings, notModified, err := m.fetcher.FetchMetadata(ctx)
	if err != nil {
		m.reportFailure(err)
		return
	}
	m.reportConnected()

	if notModified {
		// A 304 carries no new information: skip change-detection and gate
		// recomputation entirely, per spec.md §8 scenario 1 ("no listener
		// notification and no Config mutation").
		return
	}

	prev := m.lastSettings.Load()
	if !shouldRefresh(prev, &settings) {
		return
	}
	m.lastSettings.Store(&settings)

	gated := settings.CfSkipSdk || !settings.CfAccountEnabled
	m.gateOpen.Store(gated)
	if gated {
		return
	}

	m.refresh(ctx)
}

// shouldRefresh implements spec.md §4.6's change-detection rule: if
// previous is nil and new is non-nil, refresh. Otherwise compare the fixed
// whitelist of fields plus a structural diff; any difference triggers a
// refresh. A nil new settings value never triggers a refresh.
func shouldRefresh(prev, next *fetcher.SdkSettings) bool {
	if next == nil {
		return false
	}
	if prev == nil {
		return true
	}
	if prev.LastModified != next.LastModified ||
		prev.Version != next.Version ||
		prev.ConfigVersion != next.ConfigVersion ||
		prev.Hash != next.Hash ||
		prev.Timestamp != next.Timestamp {
		return true
	}
	return !reflect.DeepEqual(prev.Raw, next.Raw)
}

func (m *Manager) refresh(ctx context.Context) {
	old := *m.config.Load()

	ok, err := m.fetcher.FetchConfig(ctx, nil, "")
	if err != nil {
		m.reportFailure(err)
		return
	}
	if !ok {
		// 304: cache kept, nothing changed.
		return
	}

	newCfg, err := m.fetcher.GetConfigs()
	if err != nil {
		m.reportFailure(err)
		return
	}

	m.config.Store(&newCfg)
	_ = m.cache.Store(ctx, cache.ConfigDataKey, newCfg, "", "", cache.ConfigCacheDefault)

	changed := configmodel.DiffKeys(old, newCfg)
	for _, key := range changed {
		oldRec, hadOld := old[key]
		newRec, hasNew := newCfg[key]
		var oldPtr, newPtr *configmodel.Record
		if hadOld {
			oldPtr = &oldRec
		}
		if hasNew {
			newPtr = &newRec
		}
		m.dispatchKey(key, oldPtr, newPtr)
	}
	if len(changed) > 0 {
		m.dispatchAll(newCfg)
	}
}

func (m *Manager) reportFailure(err error) {
	m.failureCount.Add(1)
	m.dispatchConnection(StatusDisconnected, ConnectionInfo{
		FailureCount: int(m.failureCount.Load()),
		LastError:    err,
		NextRetryAt:  m.clk.Now().Add(m.currentBackoffHint()),
	})
}

func (m *Manager) reportConnected() {
	m.failureCount.Store(0)
	m.dispatchConnection(StatusConnected, ConnectionInfo{FailureCount: 0})
}

func (m *Manager) currentBackoffHint() time.Duration {
	interval := m.currentInterval()
	if interval <= 0 {
		return m.timing.BaseInterval
	}
	return interval
}

// AddKeyListener registers a listener for a single flag key. Multiple
// listeners per key are notified in insertion order.
func (m *Manager) AddKeyListener(key string, l KeyListener) {
	m.keyListenersMu.Lock()
	defer m.keyListenersMu.Unlock()
	m.keyListeners[key] = append(m.keyListeners[key], l)
}

// RemoveAllKeyListeners clears every listener registered for a key.
func (m *Manager) RemoveAllKeyListeners(key string) {
	m.keyListenersMu.Lock()
	delete(m.keyListeners, key)
	m.keyListenersMu.Unlock()
}

func (m *Manager) AddAllFlagsListener(l AllFlagsListener) {
	m.allListenersMu.Lock()
	m.allListeners = append(m.allListeners, l)
	m.allListenersMu.Unlock()
}

func (m *Manager) AddConnectionListener(l ConnectionListener) {
	m.connListenersMu.Lock()
	m.connListeners = append(m.connListeners, l)
	m.connListenersMu.Unlock()
}

// dispatchKey and dispatchAll copy the listener slice under a short lock,
// then invoke outside it — listener dispatch must never hold the
// Config-manager lock, per spec.md §4.6's concurrency rule. A panicking
// listener is caught so it never prevents the others from running.
func (m *Manager) dispatchKey(key string, old, new *configmodel.Record) {
	m.keyListenersMu.Lock()
	ls := append([]KeyListener(nil), m.keyListeners[key]...)
	m.keyListenersMu.Unlock()

	for _, l := range ls {
		func() {
			defer func() { recover() }()
			l(old, new)
		}()
	}
}

func (m *Manager) dispatchAll(cfg configmodel.Config) {
	m.allListenersMu.Lock()
	ls := append([]AllFlagsListener(nil), m.allListeners...)
	m.allListenersMu.Unlock()

	for _, l := range ls {
		func() {
			defer func() { recover() }()
			l(cfg)
		}()
	}
}

func (m *Manager) dispatchConnection(status ConnectionStatus, info ConnectionInfo) {
	m.connListenersMu.Lock()
	ls := append([]ConnectionListener(nil), m.connListeners...)
	m.connListenersMu.Unlock()

	for _, l := range ls {
		func() {
			defer func() { recover() }()
			l(status, info)
		}()
	}
}

// snapshot is a lock-free read of the immutable Config published atomically
// on refresh, per spec.md §4.6's concurrency rule.
func (m *Manager) snapshot() configmodel.Config {
	return *m.config.Load()
}

func (m *Manager) gated() bool { return m.gateOpen.Load() }

// GetString, GetBool, GetNumber, GetJSON are the evaluation API: lock-free
// reads that never error, falling back to the caller's default on an
// unknown key or when the SDK-settings gate is closed, per spec.md §4.6 and
// §7. Every evaluation that resolves to a server-provided value pushes a
// summary record.
func (m *Manager) GetString(key, def string) string {
	v, ok := m.evaluate(key)
	if !ok {
		return def
	}
	return v.AsString(def)
}

func (m *Manager) GetBool(key string, def bool) bool {
	v, ok := m.evaluate(key)
	if !ok {
		return def
	}
	return v.AsBool(def)
}

func (m *Manager) GetNumber(key string, def float64) float64 {
	v, ok := m.evaluate(key)
	if !ok {
		return def
	}
	return v.AsNumber(def)
}

func (m *Manager) GetJSON(key string, def any) any {
	v, ok := m.evaluate(key)
	if !ok {
		return def
	}
	return v.AsJSON()
}

func (m *Manager) evaluate(key string) (value.Value, bool) {
	if m.gated() {
		return value.Null(), false
	}
	cfg := m.snapshot()
	rec, ok := cfg[key]
	if !ok {
		return value.Null(), false
	}
	if m.summary != nil {
		variationID := ""
		if rec.VariationID != nil {
			variationID = *rec.VariationID
		}
		m.summary.PushSummary(key, variationID, m.sessionID())
	}
	return rec.Value, true
}
