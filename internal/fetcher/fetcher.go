// Package fetcher implements the Config Fetcher (C5) from spec.md §4.5:
// conditional HTTP GET/POST against the SDK-settings and user-configs
// endpoints, the bit-exact response-flattening rule from spec.md §4.5/§6,
// and an in-memory record of the most recently materialized Config. It is
// grounded on the teacher's
// infrastructure/publishing.pagerduty_client.go's shape — a typed HTTP
// client wrapping a generic Transport, classifying response status into
// success/retryable/permanent — though the conditional-header and flatten
// logic themselves are new, since the teacher's webhook/pagerduty/slack/
// rootly clients are all one-shot POST fire-and-forget with no conditional
// GET flow of their own.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/breaker"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/configmodel"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/sdkerrors"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/transport"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/value"
)

// Metrics is the optional sink for fetch-duration/outcome observations.
// Nil-safe, matching every other subsystem's optional-metrics pattern.
type Metrics interface {
	RecordFetch(endpoint, outcome string, seconds float64)
}

// SdkSettings is the server-supplied settings record from spec.md §3, used
// for change detection by the Config Manager.
type SdkSettings struct {
	CfSkipSdk       bool            `json:"cf_skip_sdk"`
	CfAccountEnabled bool           `json:"cf_account_enabled"`
	LastModified    string          `json:"last_modified,omitempty"`
	Version         string          `json:"version,omitempty"`
	ConfigVersion   string          `json:"config_version,omitempty"`
	Hash            string          `json:"hash,omitempty"`
	Timestamp       string          `json:"timestamp,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

// Metadata is the conditional-header pair the Fetcher owns, per spec.md
// §4.5 ("Owns the last_modified/etag pair").
type Metadata struct {
	LastModified string
	ETag         string
}

// Options configures the endpoints and auth the Fetcher talks to.
type Options struct {
	SdkSettingsBaseURL string // e.g. "https://sdk-settings.example.com"
	SdkSettingsPath    string // may contain "{dimension_id}"
	DimensionID        string
	BaseAPIURL         string
	UserConfigsPath    string
	EventsURL          string
	SummariesURL       string
	ClientKey          string
}

func (o Options) sdkSettingsURL() string {
	path := replaceDimension(o.SdkSettingsPath, o.DimensionID)
	return o.SdkSettingsBaseURL + path
}

func replaceDimension(path, dimensionID string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		if i+len("{dimension_id}") <= len(path) && path[i:i+len("{dimension_id}")] == "{dimension_id}" {
			out = append(out, dimensionID...)
			i += len("{dimension_id}") - 1
			continue
		}
		out = append(out, path[i])
	}
	return string(out)
}

// Fetcher owns the conditional-request metadata and the last materialized
// Config.
type Fetcher struct {
	opts      Options
	transport transport.Transport
	breakers  *breaker.Registry
	metrics   Metrics

	mu           sync.RWMutex
	metadata     Metadata
	lastSettings SdkSettings
	config       configmodel.Config
	hasConfig    bool

	offline atomic.Bool
}

// New constructs a Fetcher. metrics may be nil.
func New(opts Options, t transport.Transport, breakers *breaker.Registry, metrics Metrics) *Fetcher {
	return &Fetcher{opts: opts, transport: t, breakers: breakers, metrics: metrics}
}

// SetOffline gates all requests; when offline, both fetches short-circuit
// with a fast failure, per spec.md §4.5.
func (f *Fetcher) SetOffline(v bool) { f.offline.Store(v) }
func (f *Fetcher) IsOffline() bool   { return f.offline.Load() }

// FetchMetadata performs a conditional GET against the SDK-settings
// endpoint. On 304 the previously-stored SdkSettings are returned unchanged
// with notModified=true; on 200 the new pair and settings are stored and
// returned with notModified=false. Callers must skip change-detection and
// gate recomputation when notModified is true, per spec.md §8 scenario 1.
func (f *Fetcher) FetchMetadata(ctx context.Context) (settings SdkSettings, notModified bool, err error) {
	if f.IsOffline() {
		return SdkSettings{}, false, sdkerrors.New(sdkerrors.KindNetwork, "offline")
	}

	start := time.Now()
	b := f.breakers.Get("sdk_settings")
	type result struct {
		settings    SdkSettings
		notModified bool
	}
	res, err := breaker.Execute(b, func() (result, error) {
		s, nm, ferr := f.doFetchMetadata(ctx)
		return result{s, nm}, ferr
	}, nil)
	f.recordFetch("sdk_settings", err, start)
	return res.settings, res.notModified, err
}

func (f *Fetcher) doFetchMetadata(ctx context.Context) (SdkSettings, bool, error) {
	f.mu.RLock()
	meta := f.metadata
	f.mu.RUnlock()

	headers := map[string]string{}
	if meta.LastModified != "" {
		headers["If-Modified-Since"] = meta.LastModified
	}
	if meta.ETag != "" {
		headers["If-None-Match"] = meta.ETag
	}

	resp, err := f.transport.Get(ctx, f.opts.sdkSettingsURL(), headers)
	if err != nil {
		return SdkSettings{}, false, sdkerrors.Wrap(sdkerrors.ClassifyTransportError(err), "sdk settings fetch failed", err)
	}

	if resp.Status == http.StatusNotModified {
		f.mu.RLock()
		prev := f.lastSettings
		f.mu.RUnlock()
		return prev, true, nil
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return SdkSettings{}, false, sdkerrors.WithStatus(fmt.Sprintf("sdk settings fetch returned %d", resp.Status), nil, resp.Status)
	}

	var settings SdkSettings
	if err := json.Unmarshal(resp.Body, &settings); err != nil {
		return SdkSettings{}, false, sdkerrors.Wrap(sdkerrors.KindSerialization, "sdk settings decode failed", err)
	}
	settings.Raw = resp.Body

	newMeta := Metadata{
		LastModified: resp.Headers.Get("Last-Modified"),
		ETag:         resp.Headers.Get("ETag"),
	}
	f.mu.Lock()
	f.metadata = newMeta
	f.lastSettings = settings
	f.mu.Unlock()

	return settings, false, nil
}

// userConfigRequest is the POST body shape from spec.md §6. Open Question 1
// is resolved (see DESIGN.md) in favor of always sending
// include_only_features_flags.
type userConfigRequest struct {
	User                     any  `json:"user"`
	IncludeOnlyFeaturesFlags bool `json:"include_only_features_flags"`
}

type configsResponse struct {
	Configs map[string]json.RawMessage `json:"configs"`
}

// FetchConfig POSTs the user-configs request. Returns true if the Config
// was replaced (2xx with a body), false on 304 (cache kept) or offline.
func (f *Fetcher) FetchConfig(ctx context.Context, user any, lastModified string) (bool, error) {
	if f.IsOffline() {
		return false, sdkerrors.New(sdkerrors.KindNetwork, "offline")
	}

	start := time.Now()
	b := f.breakers.Get("user_configs")
	ok, err := breaker.Execute(b, func() (bool, error) {
		return f.doFetchConfig(ctx, user, lastModified)
	}, nil)
	f.recordFetch("user_configs", err, start)
	return ok, err
}

// recordFetch observes a fetch's duration and outcome ("success" or the
// error's Kind string) if metrics are wired.
func (f *Fetcher) recordFetch(endpoint string, err error, start time.Time) {
	if f.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		var sdkErr *sdkerrors.Error
		if errors.As(err, &sdkErr) {
			outcome = sdkErr.Kind.String()
		}
	}
	f.metrics.RecordFetch(endpoint, outcome, time.Since(start).Seconds())
}

func (f *Fetcher) doFetchConfig(ctx context.Context, user any, lastModified string) (bool, error) {
	body, err := json.Marshal(userConfigRequest{User: user, IncludeOnlyFeaturesFlags: true})
	if err != nil {
		return false, sdkerrors.Wrap(sdkerrors.KindSerialization, "user config request encode failed", err)
	}

	url := fmt.Sprintf("%s%s?cfenc=%s", f.opts.BaseAPIURL, f.opts.UserConfigsPath, f.opts.ClientKey)
	headers := map[string]string{}
	if lastModified != "" {
		headers["If-Modified-Since"] = lastModified
	}

	resp, err := f.transport.Post(ctx, url, body, headers)
	if err != nil {
		return false, sdkerrors.Wrap(sdkerrors.ClassifyTransportError(err), "user config fetch failed", err)
	}

	if resp.Status == http.StatusNotModified {
		return false, nil
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return false, sdkerrors.WithStatus(fmt.Sprintf("user config fetch returned %d", resp.Status), nil, resp.Status)
	}

	cfg, err := parseAndFlatten(resp.Body)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	f.config = cfg
	f.hasConfig = true
	f.mu.Unlock()
	return true, nil
}

// GetConfigs returns the last materialized Config, or an error if none has
// been fetched yet, per spec.md §4.5.
func (f *Fetcher) GetConfigs() (configmodel.Config, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.hasConfig {
		return nil, sdkerrors.New(sdkerrors.KindValidation, "no config fetched yet")
	}
	return f.config, nil
}

// parseAndFlatten applies the flattening rule from spec.md §4.5/§6: for
// each entry, if it contains a nested experience_behaviour_response object,
// remove that key and merge its fields into the parent (nested fields
// win). Fields whose value is null are dropped, and an entry left with
// neither a "value" nor a "variation" field is skipped. If "configs" is missing,
// returns an empty Config, not an error (a validation warning is the
// caller's business to log, not this function's).
func parseAndFlatten(body []byte) (configmodel.Config, error) {
	var raw configsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, sdkerrors.Wrap(sdkerrors.KindSerialization, "config response decode failed", err)
	}
	if raw.Configs == nil {
		return configmodel.Config{}, nil
	}

	out := make(configmodel.Config, len(raw.Configs))
	for key, rawEntry := range raw.Configs {
		var fields map[string]any
		if err := json.Unmarshal(rawEntry, &fields); err != nil {
			continue
		}
		flattenFields(fields)
		rec := fieldsToRecord(fields)
		if rec.Value.IsNull() {
			continue
		}
		out[key] = rec
	}
	return out, nil
}

// flattenFields mutates fields in place: the nested
// experience_behaviour_response object (if present) is removed and its
// fields merged in, winning over same-named parent fields; null-valued
// fields are dropped. The function is idempotent — a second application
// finds no experience_behaviour_response key left to merge and no null
// values left to drop, per spec.md §8's idempotence law.
func flattenFields(fields map[string]any) {
	if nested, ok := fields["experience_behaviour_response"]; ok {
		delete(fields, "experience_behaviour_response")
		if nestedMap, ok := nested.(map[string]any); ok {
			for k, v := range nestedMap {
				fields[k] = v
			}
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(fields, k)
		}
	}
}

func fieldsToRecord(fields map[string]any) configmodel.Record {
	rec := configmodel.Record{Value: value.Null()}
	if v, ok := fields["value"]; ok {
		rec.Value = value.FromJSON(v)
	} else if v, ok := fields["variation"]; ok {
		rec.Value = value.FromJSON(v)
	}
	if v, ok := stringField(fields, "config_id"); ok {
		rec.ConfigID = &v
	}
	if v, ok := stringField(fields, "variation_id"); ok {
		rec.VariationID = &v
	}
	if v, ok := stringField(fields, "experience"); ok {
		rec.Experience = &v
	}
	if v, ok := stringField(fields, "rule_id"); ok {
		rec.RuleID = &v
	}
	if v, ok := fields["version"]; ok {
		if f, ok := toFloat(v); ok {
			rec.Version = &f
		}
	}
	if v, ok := fields["priority"]; ok {
		if f, ok := toFloat(v); ok {
			i := int(f)
			rec.Priority = &i
		}
	}
	return rec
}

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
