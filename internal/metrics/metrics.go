// Package metrics is the backend-neutral metrics seam.
//
// Core packages record through the package-level helpers; the CLI installs a
// concrete Backend (Datadog) with SetBackend. With no backend installed every
// call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives counter increments and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

// Metric names.
const (
	DownloadsTotal          = "mtgjson_downloads_total"
	DownloadBytes           = "mtgjson_download_bytes"
	DownloadDurationSeconds = "mtgjson_download_duration_seconds"
	VersionChecksTotal      = "mtgjson_version_checks_total"
	ViewsRegisteredTotal    = "mtgjson_views_registered_total"
	PacksOpenedTotal        = "mtgjson_packs_opened_total"
)

var (
	mu      sync.RWMutex
	backend Backend
)

// SetBackend installs b as the process-wide backend. nil disables metrics.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// IncCounter increments a counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	if b := current(); b != nil {
		b.IncCounter(name, delta, labels)
	}
}

// ObserveHistogram records a sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	if b := current(); b != nil {
		b.ObserveHistogram(name, value, labels)
	}
}

// RecordDownload records one CDN download attempt.
// status is the HTTP status code of a completed download, or 0 for any
// failure, which is labelled "error".
func RecordDownload(dataset string, status int, bytes int64, d time.Duration) {
	b := current()
	if b == nil {
		return
	}
	s := "error"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	labels := Labels{"dataset": dataset, "status": s}
	b.IncCounter(DownloadsTotal, 1, labels)
	b.ObserveHistogram(DownloadDurationSeconds, d.Seconds(), labels)
	if bytes > 0 {
		b.ObserveHistogram(DownloadBytes, float64(bytes), labels)
	}
}

// RecordVersionCheck records a remote version check outcome ("ok", "error", "offline").
func RecordVersionCheck(outcome string) {
	IncCounter(VersionChecksTotal, 1, Labels{"outcome": outcome})
}

// RecordViewRegistered records one view materialization.
func RecordViewRegistered(view string) {
	IncCounter(ViewsRegisteredTotal, 1, Labels{"view": view})
}

// RecordPackOpened records one simulated pack opening.
func RecordPackOpened(setCode, boosterType string) {
	IncCounter(PacksOpenedTotal, 1, Labels{"set": setCode, "type": boosterType})
}
