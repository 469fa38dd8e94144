// Package session implements the Session Manager (C4) from spec.md §4.4: a
// process-wide session id lifecycle with rotation triggers (max duration,
// background threshold, app restart, auth change, forced) and listener
// notification. Per Design Notes §9's guidance to replace "global
// singletons" with explicit process-wide state passed via constructor
// parameters, Manager has no package-level instance — callers hold the one
// *Manager they construct.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
)

// Reason identifies why a rotation occurred.
type Reason int

const (
	ReasonMaxDuration Reason = iota
	ReasonBackground
	ReasonRestart
	ReasonAuth
	ReasonManual
)

func (r Reason) String() string {
	switch r {
	case ReasonBackground:
		return "background"
	case ReasonRestart:
		return "restart"
	case ReasonAuth:
		return "auth"
	case ReasonManual:
		return "manual"
	default:
		return "max_duration"
	}
}

// Data is the SessionData record from spec.md §3.
type Data struct {
	SessionID    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	AppStartTS   time.Time
	UserIDHash   string
}

// Config holds the rotation tunables from spec.md §4.4, with its defaults.
type Config struct {
	Prefix                string
	MaxSessionDuration    time.Duration // default 1h
	BackgroundThreshold   time.Duration // default 15m
	MinSessionDuration    time.Duration // default 5m
	RotateOnAppRestart    bool
	RotateOnAuthChange    bool
}

// DefaultConfig returns spec.md's documented rotation defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:              "cf_session",
		MaxSessionDuration:  time.Hour,
		BackgroundThreshold: 15 * time.Minute,
		MinSessionDuration:  5 * time.Minute,
		RotateOnAppRestart:  true,
		RotateOnAuthChange:  true,
	}
}

// Listener is notified on every rotation with the id being replaced and its
// replacement. The initial session minted by New is not reported.
type Listener func(oldID, newID string, reason Reason)

// Manager owns the live SessionData and drives rotation. One instance is
// meant to be constructed once per process and shared by reference, not
// recreated per call — see the package doc for why this is explicit state
// rather than a language-level singleton.
type Manager struct {
	cfg Config
	clk clock.Clock

	mu   sync.Mutex
	data Data

	backgroundSince time.Time
	inBackground    bool

	listenersMu sync.Mutex
	listeners   []Listener
}

// New starts a Manager with a freshly minted session, marking app_start_ts
// as now. If RotateOnAppRestart is set, the very first session still counts
// as "created fresh on restart" — there is no prior process session to
// compare against, so no rotation fires; RotateOnAppRestart only matters
// when the host app reports a restart it detects itself by calling
// OnAppRestart.
func New(cfg Config, clk clock.Clock) *Manager {
	now := clk.Now()
	m := &Manager{cfg: cfg, clk: clk}
	m.data = Data{
		SessionID:    generateID(cfg.Prefix, now),
		CreatedAt:    now,
		LastActiveAt: now,
		AppStartTS:   now,
	}
	return m
}

func generateID(prefix string, now time.Time) string {
	return prefix + "_" + now.UTC().Format("20060102T150405.000Z") + "_" + uuid.NewString()[:8]
}

// AddListener registers a rotation listener. Multiple listeners may be
// registered; they are notified in insertion order.
func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// CurrentID returns the active session id.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SessionID
}

// Touch records user activity, updating last_active_at.
func (m *Manager) Touch() {
	m.mu.Lock()
	m.data.LastActiveAt = m.clk.Now()
	m.mu.Unlock()
}

// OnForeground notifies the Manager the app moved to the foreground,
// evaluating the background-threshold rotation trigger if the app had been
// backgrounded long enough.
func (m *Manager) OnForeground() {
	now := m.clk.Now()

	m.mu.Lock()
	wasInBackground := m.inBackground
	since := m.backgroundSince
	m.inBackground = false
	m.mu.Unlock()

	if wasInBackground && now.Sub(since) >= m.cfg.BackgroundThreshold {
		m.rotate(ReasonBackground, now)
	}
}

// OnBackground notifies the Manager the app moved to the background,
// starting the background timer the threshold trigger consults on the next
// foreground transition.
func (m *Manager) OnBackground() {
	m.mu.Lock()
	m.inBackground = true
	m.backgroundSince = m.clk.Now()
	m.mu.Unlock()
}

// OnAppRestart notifies the Manager the host process restarted, rotating
// immediately if RotateOnAppRestart is configured.
func (m *Manager) OnAppRestart() {
	if m.cfg.RotateOnAppRestart {
		m.rotate(ReasonRestart, m.clk.Now())
	}
}

// OnAuthChange notifies the Manager the authenticated user's id hash
// changed, rotating (ignoring the minimum-session-duration floor) if
// RotateOnAuthChange is configured.
func (m *Manager) OnAuthChange(newUserIDHash string) {
	m.mu.Lock()
	changed := m.data.UserIDHash != newUserIDHash
	m.data.UserIDHash = newUserIDHash
	m.mu.Unlock()

	if changed && m.cfg.RotateOnAuthChange {
		m.rotate(ReasonAuth, m.clk.Now())
	}
}

// ForceRotation rotates unconditionally, ignoring the minimum-session-
// duration floor, per spec.md §4.4 trigger 5.
func (m *Manager) ForceRotation() string {
	return m.rotate(ReasonManual, m.clk.Now())
}

// CheckMaxDuration evaluates trigger 1 (spec.md §4.4): rotates if the
// current session has lived at least MaxSessionDuration. Callers invoke
// this periodically (e.g. alongside the Config Manager's polling tick)
// since there is no internal timer driving it on its own.
func (m *Manager) CheckMaxDuration() {
	now := m.clk.Now()
	m.mu.Lock()
	due := now.Sub(m.data.CreatedAt) >= m.cfg.MaxSessionDuration
	m.mu.Unlock()
	if due {
		m.rotate(ReasonMaxDuration, now)
	}
}

// rotate replaces the session id, suppressing triggers 1 and 2 if the
// minimum session duration has not yet elapsed (auth and manual rotations
// always proceed, per spec.md §4.4).
func (m *Manager) rotate(reason Reason, now time.Time) string {
	m.mu.Lock()
	if reason == ReasonMaxDuration || reason == ReasonBackground {
		if now.Sub(m.data.CreatedAt) < m.cfg.MinSessionDuration {
			current := m.data.SessionID
			m.mu.Unlock()
			return current
		}
	}

	oldID := m.data.SessionID
	newID := generateID(m.cfg.Prefix, now)
	m.data.SessionID = newID
	m.data.CreatedAt = now
	m.data.LastActiveAt = now
	m.mu.Unlock()

	m.dispatch(oldID, newID, reason)
	return newID
}

func (m *Manager) dispatch(oldID, newID string, reason Reason) {
	m.listenersMu.Lock()
	snapshot := make([]Listener, len(m.listeners))
	copy(snapshot, m.listeners)
	m.listenersMu.Unlock()

	for _, l := range snapshot {
		func() {
			defer func() { recover() }()
			l(oldID, newID, reason)
		}()
	}
}

// Snapshot returns the current SessionData, for persistence.
func (m *Manager) Snapshot() Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Shutdown clears listeners. There are no internal timers to cancel — the
// background threshold and max-duration triggers are evaluated on demand by
// OnForeground/CheckMaxDuration rather than by a ticking goroutine. The
// Lifecycle Coordinator calls OnForeground; cfclient.Client's own tick
// calls CheckMaxDuration.
func (m *Manager) Shutdown() {
	m.listenersMu.Lock()
	m.listeners = nil
	m.listenersMu.Unlock()
}
