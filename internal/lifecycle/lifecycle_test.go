package lifecycle

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/breaker"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/cache"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/configmgr"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/fetcher"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/kvstore"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/queue"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/session"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/telemetry"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/transport"
)

type fakeTransport struct{}

func (f *fakeTransport) Get(ctx context.Context, url string, headers map[string]string) (transport.Response, error) {
	return transport.Response{Status: http.StatusOK, Body: []byte(`{}`)}, nil
}
func (f *fakeTransport) Post(ctx context.Context, url string, body []byte, headers map[string]string) (transport.Response, error) {
	return transport.Response{Status: http.StatusOK}, nil
}
func (f *fakeTransport) SetTimeouts(connect, read time.Duration) {}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *configmgr.Manager, *session.Manager) {
	clk := clock.NewFake(time.Unix(0, 0))
	tr := &fakeTransport{}
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk, nil)
	f := fetcher.New(fetcher.Options{SdkSettingsBaseURL: "https://s", BaseAPIURL: "https://a"}, tr, breakers, nil)
	c := cache.New(kvstore.NewMemStore(), clk, nil, 16)
	cfgMgr := configmgr.New(f, c, clk, nil, configmgr.DefaultTiming(), nil)

	sessions := session.New(session.DefaultConfig(), clk)

	dir := t.TempDir()
	events, err := telemetry.NewPipeline[telemetry.Event]("events", dir, "https://e", tr, clk, nil, nil, queue.DefaultConfig("events", dir), telemetry.Policy{})
	require.NoError(t, err)
	summaries, err := telemetry.NewPipeline[telemetry.Summary]("summaries", dir, "https://s", tr, clk, nil, nil, queue.DefaultConfig("summaries", dir), telemetry.Policy{})
	require.NoError(t, err)
	pipelines := &telemetry.Pipelines{Events: events, Summaries: summaries}

	coord := New(opts, cfgMgr, sessions, pipelines, func(bool) {})
	return coord, cfgMgr, sessions
}

func TestOnAppForeground_BumpsLaunchCount(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{})

	assert.Equal(t, int64(0), coord.AppLaunchCount())
	coord.OnAppForeground()
	assert.Equal(t, int64(1), coord.AppLaunchCount())
	coord.OnAppForeground()
	assert.Equal(t, int64(2), coord.AppLaunchCount())
}

func TestOnAppBackground_SetsOfflineWhenConfigured(t *testing.T) {
	var gotOffline bool
	clk := clock.NewFake(time.Unix(0, 0))
	tr := &fakeTransport{}
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk, nil)
	f := fetcher.New(fetcher.Options{SdkSettingsBaseURL: "https://s"}, tr, breakers, nil)
	c := cache.New(kvstore.NewMemStore(), clk, nil, 16)
	cfgMgr := configmgr.New(f, c, clk, nil, configmgr.DefaultTiming(), nil)
	sessions := session.New(session.DefaultConfig(), clk)
	dir := t.TempDir()
	events, err := telemetry.NewPipeline[telemetry.Event]("events", dir, "https://e", tr, clk, nil, nil, queue.DefaultConfig("events", dir), telemetry.Policy{})
	require.NoError(t, err)
	summaries, err := telemetry.NewPipeline[telemetry.Summary]("summaries", dir, "https://s", tr, clk, nil, nil, queue.DefaultConfig("summaries", dir), telemetry.Policy{})
	require.NoError(t, err)
	pipelines := &telemetry.Pipelines{Events: events, Summaries: summaries}

	coord := New(Options{DisableBackgroundPolling: true, SetOfflineOnBackground: true}, cfgMgr, sessions, pipelines, func(v bool) { gotOffline = v })

	coord.OnAppBackground()

	assert.True(t, gotOffline)
}

func TestOnBatteryChange_LowAndNotChargingDoesNotPanic(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{UseReducedPollingWhenBatteryLow: true})

	// ForceCheck only enqueues a wake signal, which has no direct observer
	// here; the transition itself must not panic.
	assert.NotPanics(t, func() {
		coord.OnBatteryChange(BatteryState{Level: 0.1, IsCharging: false, IsLow: true})
	})
}

func TestShutdown_MarksUninitialized(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{})
	assert.True(t, coord.Initialized())

	coord.Shutdown(context.Background())

	assert.False(t, coord.Initialized())
}
