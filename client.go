// Package cfclient is the thin facade wiring the Core's six subsystems
// (Circuit Breaker, Persistent Background Queue, Config Cache, Session
// Manager, Config Fetcher, Config Manager) plus the Event/Summary
// Pipelines and the Lifecycle Coordinator into one constructor. spec.md
// explicitly scopes the public facade (builder/singleton wrapper) OUT of
// the CORE, so this is deliberately thin: no builder DSL, no singleton
// registry, just a constructor function and the evaluation/tracking
// methods a host application calls.
package cfclient

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/breaker"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/cache"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/configmgr"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/fetcher"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/kvstore"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/lifecycle"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/options"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/queue"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/session"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/telemetry"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/transport"
	"github.com/shoaib-customfit/cf-go-client-sdk/pkg/cflog"
	"github.com/shoaib-customfit/cf-go-client-sdk/pkg/metrics"
)

// Client is the wired SDK instance a host application holds for its
// process lifetime.
type Client struct {
	opts      *options.Options
	logger    *slog.Logger
	metrics   *metrics.SDK
	clk       clock.Clock
	transport transport.Transport
	breakers  *breaker.Registry
	fetcher   *fetcher.Fetcher
	cache     *cache.Cache
	disk      kvstore.Store
	sessions  *session.Manager
	configMgr *configmgr.Manager
	pipelines *telemetry.Pipelines
	coord     *lifecycle.Coordinator

	sessionCheckStop chan struct{}
	sessionCheckWG   sync.WaitGroup
}

// New builds and starts a Client from opts. The returned Client begins
// polling immediately; call Shutdown to stop it.
func New(opts options.Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := cflog.NewLogger(cflog.Config{Level: opts.LogLevel, Format: opts.LogFormat, Output: opts.LogOutput})
	m := metrics.New()
	clk := clock.NewReal()

	t := transport.NewHTTPTransport(
		time.Duration(opts.Network.ConnectionTimeoutMs)*time.Millisecond,
		time.Duration(opts.Network.ReadTimeoutMs)*time.Millisecond,
		logger,
	)

	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk, m)

	f := fetcher.New(fetcher.Options{
		SdkSettingsBaseURL: opts.SdkSettingsBaseURL,
		SdkSettingsPath:    opts.SdkSettingsPath,
		DimensionID:        opts.DimensionID,
		BaseAPIURL:         opts.BaseAPIURL,
		UserConfigsPath:    opts.UserConfigsPath,
		EventsURL:          opts.EventsURL,
		SummariesURL:       opts.SummariesURL,
		ClientKey:          opts.ClientKey,
	}, t, breakers, m)
	f.SetOffline(opts.OfflineMode)

	var disk kvstore.Store
	var err error
	if opts.Cache.LocalStorageEnabled {
		disk, err = kvstore.NewSQLiteStore(context.Background(), filepath.Join(opts.StorageDir, "cf-cache.db"))
		if err != nil {
			return nil, fmt.Errorf("cfclient: failed to open cache store: %w", err)
		}
	} else {
		disk = kvstore.NewMemStore()
	}
	cfgCache := cache.New(disk, clk, m, cache.L1Capacity(opts.Cache.MaxCacheSizeMB))

	sessions := session.New(session.Config{
		Prefix:              "cf_session",
		MaxSessionDuration:  time.Duration(opts.Session.MaxSessionDurationMs) * time.Millisecond,
		BackgroundThreshold: time.Duration(opts.Session.BackgroundThresholdMs) * time.Millisecond,
		MinSessionDuration:  time.Duration(opts.Session.MinSessionDurationMs) * time.Millisecond,
		RotateOnAppRestart:  opts.Session.RotateOnAppRestart,
		RotateOnAuthChange:  opts.Session.RotateOnAuthChange,
	}, clk)

	timing := configmgr.Timing{
		BaseInterval:                  time.Duration(opts.Polling.SdkSettingsCheckIntervalMs) * time.Millisecond,
		BackgroundInterval:            time.Duration(opts.Polling.BackgroundPollingIntervalMs) * time.Millisecond,
		ReducedInterval:               time.Duration(opts.Polling.ReducedPollingIntervalMs) * time.Millisecond,
		DisableBackgroundPolling:      opts.Polling.DisableBackgroundPolling,
		UseReducedPollingOnLowBattery: opts.Polling.UseReducedPollingWhenBatteryLow,
	}

	qcfg := queue.Config{
		MaxRetries:     opts.Queue.MaxRetryAttempts,
		InitialDelay:   time.Duration(opts.Queue.RetryInitialDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(opts.Queue.RetryMaxDelayMs) * time.Millisecond,
		Multiplier:     opts.Queue.RetryBackoffMultiplier,
		JitterFraction: opts.Queue.RetryJitterFraction,
	}

	eventsPipeline, err := telemetry.NewPipeline[telemetry.Event]("events", opts.StorageDir, opts.EventsURL, t, clk, logger, m, qcfg, telemetry.Policy{
		FlushInterval: time.Duration(opts.Queue.EventsFlushTimeSeconds) * time.Second,
		QueueSize:     opts.Queue.EventsQueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cfclient: failed to build events pipeline: %w", err)
	}
	summariesPipeline, err := telemetry.NewPipeline[telemetry.Summary]("summaries", opts.StorageDir, opts.SummariesURL, t, clk, logger, m, qcfg, telemetry.Policy{
		FlushInterval: time.Duration(opts.Queue.SummariesFlushTimeSeconds) * time.Second,
		QueueSize:     opts.Queue.SummariesQueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cfclient: failed to build summaries pipeline: %w", err)
	}
	pipelines := &telemetry.Pipelines{Events: eventsPipeline, Summaries: summariesPipeline}

	configMgr := configmgr.New(f, cfgCache, clk, logger, timing, pipelines)
	configMgr.SetSessionID(sessions.CurrentID())
	sessions.AddListener(func(_, newID string, _ session.Reason) {
		configMgr.SetSessionID(newID)
	})

	coord := lifecycle.New(lifecycle.Options{
		DisableBackgroundPolling:        opts.Polling.DisableBackgroundPolling,
		SetOfflineOnBackground:          false,
		UseReducedPollingWhenBatteryLow: opts.Polling.UseReducedPollingWhenBatteryLow,
	}, configMgr, sessions, pipelines, f.SetOffline)

	c := &Client{
		opts:             &opts,
		logger:           logger,
		metrics:          m,
		clk:              clk,
		transport:        t,
		breakers:         breakers,
		fetcher:          f,
		cache:            cfgCache,
		disk:             disk,
		sessions:         sessions,
		configMgr:        configMgr,
		pipelines:        pipelines,
		coord:            coord,
		sessionCheckStop: make(chan struct{}),
	}

	configMgr.Start(context.Background())
	pipelines.Start()
	c.startSessionMaxDurationCheck()
	return c, nil
}

// startSessionMaxDurationCheck runs a background tick evaluating the
// Session Manager's max-duration rotation trigger (spec.md §4.4 trigger
// 1), since that trigger has no timer of its own — it is evaluated on
// demand by whichever driver polls it, per session.Manager's doc. The
// Config Manager's base polling interval is a convenient, already-present
// cadence to piggyback this check on.
func (c *Client) startSessionMaxDurationCheck() {
	interval := time.Duration(c.opts.Polling.SdkSettingsCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	c.sessionCheckWG.Add(1)
	go func() {
		defer c.sessionCheckWG.Done()
		for {
			select {
			case <-c.sessionCheckStop:
				return
			case <-c.clk.After(interval):
				c.sessions.CheckMaxDuration()
			}
		}
	}()
}

// GetString, GetBool, GetNumber, GetJSON evaluate a flag by key, falling
// back to def on any gate, miss, or type mismatch (spec.md §7:
// "Evaluation: never throws").
func (c *Client) GetString(key, def string) string    { return c.configMgr.GetString(key, def) }
func (c *Client) GetBool(key string, def bool) bool   { return c.configMgr.GetBool(key, def) }
func (c *Client) GetNumber(key string, def float64) float64 { return c.configMgr.GetNumber(key, def) }
func (c *Client) GetJSON(key string, def any) any     { return c.configMgr.GetJSON(key, def) }

// TrackEvent enqueues an analytics event, forcing a summaries flush first
// per spec.md §4.7's ordering guarantee.
func (c *Client) TrackEvent(ctx context.Context, name string, properties map[string]any) error {
	return c.pipelines.TrackEvent(ctx, name, properties, c.sessions.CurrentID())
}

// OnAppForeground, OnAppBackground, OnBatteryChange forward host-app
// lifecycle signals to the Lifecycle Coordinator (C8).
func (c *Client) OnAppForeground()                              { c.coord.OnAppForeground() }
func (c *Client) OnAppBackground()                              { c.coord.OnAppBackground() }
func (c *Client) OnBatteryChange(state lifecycle.BatteryState)  { c.coord.OnBatteryChange(state) }

// SetOffline toggles offline mode at runtime.
func (c *Client) SetOffline(v bool) { c.fetcher.SetOffline(v) }

// ForceSessionRotation forces an immediate session rotation.
func (c *Client) ForceSessionRotation() string { return c.sessions.ForceRotation() }

// AddFlagListener registers a per-key flag-change listener.
func (c *Client) AddFlagListener(key string, l configmgr.KeyListener) {
	c.configMgr.AddKeyListener(key, l)
}

// AddAllFlagsListener registers an all-flags-change listener.
func (c *Client) AddAllFlagsListener(l configmgr.AllFlagsListener) {
	c.configMgr.AddAllFlagsListener(l)
}

// AddConnectionListener registers a connection-status listener.
func (c *Client) AddConnectionListener(l configmgr.ConnectionListener) {
	c.configMgr.AddConnectionListener(l)
}

// Shutdown flushes both pipelines best-effort and stops every background
// goroutine, within ctx's deadline.
func (c *Client) Shutdown(ctx context.Context) error {
	select {
	case <-c.sessionCheckStop:
	default:
		close(c.sessionCheckStop)
	}
	c.sessionCheckWG.Wait()

	c.coord.Shutdown(ctx)
	if c.disk != nil {
		return c.disk.Close()
	}
	return nil
}
