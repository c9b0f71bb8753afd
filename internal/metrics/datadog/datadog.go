// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory and submitted on Flush. A background loop
// flushes every FlushEvery, and Close performs one final flush so short CLI
// invocations still report their downloads and pack openings.
//
// Concurrency model:
//   - any goroutine can call IncCounter/ObserveHistogram
//   - Flush snapshots and resets buffers under a mutex, then submits out-of-lock
//   - Close stops the loop; calling it twice panics
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mtgjson/mtgjson-go/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "mtgjson".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:sdk"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams; production code leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesNames maps internal metric names to Datadog metric names.
// Metrics not listed here are dropped.
var seriesNames = map[string]string{
	metrics.DownloadsTotal:          "mtgjson.downloads.total",
	metrics.DownloadBytes:           "mtgjson.download.bytes",
	metrics.DownloadDurationSeconds: "mtgjson.download.duration_seconds",
	metrics.VersionChecksTotal:      "mtgjson.version_checks.total",
	metrics.ViewsRegisteredTotal:    "mtgjson.views_registered.total",
	metrics.PacksOpenedTotal:        "mtgjson.packs_opened.total",
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu      sync.Mutex
	counts  map[string]float64   // seriesKey -> sum
	samples map[string][]float64 // seriesKey -> observations
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
// Credentials come from DD_API_KEY / DD_SITE via dd.NewDefaultContext.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "mtgjson"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counts:     make(map[string]float64),
		samples:    make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	if _, ok := seriesNames[name]; !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[seriesKey(name, labels)] += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	if _, ok := seriesNames[name]; !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	k := seriesKey(name, labels)
	b.samples[k] = append(b.samples[k], value)
}

type snapshot struct {
	counts  map[string]float64
	samples map[string][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.counts) == 0 && len(s.samples) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counts: b.counts, samples: b.samples}
	b.counts = make(map[string]float64)
	b.samples = make(map[string][]float64)
	return s
}

// Flush submits buffered metrics and resets local buffers.
// Buffers are reset even when submission fails.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries is pure: counters become COUNT series, histograms become
// percentile GAUGE series.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.counts)+6*len(s.samples))

	for _, k := range sortedKeys(s.counts) {
		v := s.counts[k]
		if v == 0 {
			continue
		}
		name, tags := splitSeriesKey(k)
		series = append(series, point(seriesNames[name], datadogV2.METRICINTAKETYPE_COUNT, v, withTags(b.baseTags, tags...), nowUnix))
	}

	for _, k := range sortedKeys(s.samples) {
		name, tags := splitSeriesKey(k)
		addPercentiles(&series, withTags(b.baseTags, tags...), seriesNames[name], s.samples[k], nowUnix)
	}

	return series
}

func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, prefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	gauge := datadogV2.METRICINTAKETYPE_GAUGE
	*series = append(*series,
		point(prefix+".p50", gauge, percentileNearestRank(cp, 0.50), tags, nowUnix),
		point(prefix+".p90", gauge, percentileNearestRank(cp, 0.90), tags, nowUnix),
		point(prefix+".p99", gauge, percentileNearestRank(cp, 0.99), tags, nowUnix),
		point(prefix+".max", gauge, cp[len(cp)-1], tags, nowUnix),
		point(prefix+".samples", gauge, float64(len(cp)), tags, nowUnix),
	)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

// seriesKey encodes a metric name and its labels as "name\x00k:v\x00k:v",
// labels sorted so equal label sets share a buffer.
func seriesKey(name string, labels metrics.Labels) string {
	parts := make([]string, 0, len(labels)+1)
	parts = append(parts, name)
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := labels[k]
		if v == "" {
			v = "unknown"
		}
		parts = append(parts, k+":"+v)
	}
	return strings.Join(parts, "\x00")
}

func splitSeriesKey(k string) (name string, tags []string) {
	parts := strings.Split(k, "\x00")
	return parts[0], parts[1:]
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:sdk".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
