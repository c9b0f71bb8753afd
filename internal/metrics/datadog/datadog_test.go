package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mtgjson/mtgjson-go/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	t.Setenv("ENV", "test")
	b, err := NewBackend(context.Background(), Options{
		JobName:   "sdk-test",
		Tags:      []string{"service:mtgjson"},
		submitter: fs,
		now:       func() time.Time { return time.Unix(1700000000, 0) },
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func findSeries(p datadogV2.MetricPayload, metric string) (datadogV2.MetricSeries, bool) {
	for _, s := range p.Series {
		if s.Metric == metric {
			return s, true
		}
	}
	return datadogV2.MetricSeries{}, false
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_fallback", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "  ", dd: "\t", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestSeriesKeyRoundTrip(t *testing.T) {
	k := seriesKey(metrics.DownloadsTotal, metrics.Labels{"status": "200", "dataset": "cards"})
	name, tags := splitSeriesKey(k)
	if name != metrics.DownloadsTotal {
		t.Fatalf("name=%q", name)
	}
	want := []string{"dataset:cards", "status:200"}
	if !reflect.DeepEqual(tags, want) {
		t.Fatalf("tags=%v, want %v", tags, want)
	}

	// empty label values are tagged as unknown
	_, tags = splitSeriesKey(seriesKey(metrics.VersionChecksTotal, metrics.Labels{"outcome": ""}))
	if !reflect.DeepEqual(tags, []string{"outcome:unknown"}) {
		t.Fatalf("tags=%v", tags)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.5, want: 0},
		{name: "single", s: []float64{7}, p: 0.9, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.5, want: 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer b.Close()

	metrics.SetBackend(b)
	defer metrics.SetBackend(nil)

	metrics.RecordDownload("cards", 200, 2048, 1500*time.Millisecond)
	metrics.RecordDownload("cards", 200, 1024, 500*time.Millisecond)
	metrics.RecordPackOpened("MH3", "draft")

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submissions=%d, want 1", fs.count())
	}

	p := fs.last()
	s, ok := findSeries(p, "mtgjson.downloads.total")
	if !ok {
		t.Fatalf("downloads series missing: %+v", p.Series)
	}
	if got := *s.Points[0].Value; got != 2 {
		t.Errorf("downloads=%v, want 2", got)
	}
	wantTags := []string{"env:test", "job:sdk-test", "service:mtgjson", "dataset:cards", "status:200"}
	if !reflect.DeepEqual(s.Tags, wantTags) {
		t.Errorf("tags=%v, want %v", s.Tags, wantTags)
	}
	if *s.Points[0].Timestamp != 1700000000 {
		t.Errorf("timestamp=%d", *s.Points[0].Timestamp)
	}

	mx, ok := findSeries(p, "mtgjson.download.bytes.max")
	if !ok || *mx.Points[0].Value != 2048 {
		t.Errorf("bytes max series wrong: %+v", mx)
	}
	if _, ok := findSeries(p, "mtgjson.packs_opened.total"); !ok {
		t.Error("packs series missing")
	}

	// Second flush has nothing buffered.
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("empty flush submitted: %d", fs.count())
	}
}

func TestFlush_ReturnsSubmitError(t *testing.T) {
	boom := errors.New("boom")
	fs := &fakeSubmitter{err: boom}
	b := newTestBackend(t, fs)
	defer b.Close()

	b.IncCounter(metrics.ViewsRegisteredTotal, 1, metrics.Labels{"view": "cards"})
	if err := b.Flush(); !errors.Is(err, boom) {
		t.Fatalf("Flush err=%v, want boom", err)
	}
}

func TestIgnoresUnknownAndInvalid(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer b.Close()

	b.IncCounter("not_a_metric", 1, nil)
	b.IncCounter(metrics.DownloadsTotal, 0, nil)
	b.IncCounter(metrics.DownloadsTotal, -3, nil)
	b.ObserveHistogram(metrics.DownloadBytes, -1, nil)
	b.ObserveHistogram("not_a_histogram", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("submitted %d payloads, want 0", fs.count())
	}
}

func TestClose_FinalFlush(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.VersionChecksTotal, 1, metrics.Labels{"outcome": "ok"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submissions=%d, want 1", fs.count())
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.IncCounter(metrics.PacksOpenedTotal, 1, metrics.Labels{"set": "MH3", "type": "draft"})
				b.ObserveHistogram(metrics.DownloadDurationSeconds, 0.1, metrics.Labels{"dataset": "cards"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	s, ok := findSeries(fs.last(), "mtgjson.packs_opened.total")
	if !ok || *s.Points[0].Value != 800 {
		t.Fatalf("packs series=%+v", s)
	}
}

func TestParseTagsCSV(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"env:prod", []string{"env:prod"}},
		{" env:prod , ,service:sdk ", []string{"env:prod", "service:sdk"}},
	}
	for _, tc := range tests {
		if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
