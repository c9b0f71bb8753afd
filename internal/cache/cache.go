// Package cache keeps a local copy of the MTGJSON CDN files.
//
// A Manager maps logical dataset names to files under its directory,
// downloading them on first use and again whenever the remote version token
// differs from the one recorded in version.txt. Downloads land in a temp file
// that is renamed into place, so readers never see a partial file. Corrupt
// JSON documents are deleted on load and reported as retryable NotFound.
//
// A Manager is not safe for concurrent use; the SDK session serializes it.
package cache

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mtgjson/mtgjson-go/internal/core/config"
	"github.com/mtgjson/mtgjson-go/internal/jsonpath"
	"github.com/mtgjson/mtgjson-go/internal/logging"
	"github.com/mtgjson/mtgjson-go/internal/metrics"
	"github.com/mtgjson/mtgjson-go/internal/types"
)

// VersionFile is the side-car holding the version token of the cached files.
const VersionFile = "version.txt"

// versionPaths are tried in order against the metadata document.
var versionPaths = []string{"data.version", "meta.version"}

const userAgent = "mtgjson-go/1.0"

// Options configures a Manager. Zero values fall back to config.Default().
type Options struct {
	Dir        string
	Offline    bool
	Timeout    time.Duration
	BaseURL    string
	MetaURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Manager owns a cache directory.
type Manager struct {
	dir     string
	offline bool
	baseURL string
	metaURL string
	client  *http.Client
	log     *slog.Logger

	remoteVer string
}

// New creates the cache directory if needed and returns a Manager for it.
func New(opts Options) (*Manager, error) {
	d := config.Default()

	dir := opts.Dir
	if dir == "" {
		dir = config.DefaultCacheDir()
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, types.Wrap(types.ErrIO, err, "resolve cache dir %s", opts.Dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.Wrap(types.ErrIO, err, "create cache dir %s", dir)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.Timeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = d.BaseURL
	}
	metaURL := opts.MetaURL
	if metaURL == "" {
		metaURL = d.MetaURL
	}

	log := opts.Logger
	if log == nil {
		log = logging.WithComponent("cache")
	}

	return &Manager{
		dir:     dir,
		offline: opts.Offline,
		baseURL: baseURL,
		metaURL: metaURL,
		client:  client,
		log:     log,
	}, nil
}

// Dir returns the cache directory.
func (m *Manager) Dir() string { return m.dir }

// Offline reports whether the manager never touches the network.
func (m *Manager) Offline() bool { return m.offline }

// Path returns the local path a dataset is cached at, whether or not it exists.
func (m *Manager) Path(name string) (string, error) {
	e, err := Lookup(name)
	if err != nil {
		return "", err
	}
	return m.localPath(e), nil
}

func (m *Manager) localPath(e Entry) string {
	return filepath.Join(m.dir, filepath.FromSlash(e.Path))
}

// LocalVersion returns the recorded version token, or "" when none is recorded.
func (m *Manager) LocalVersion() string {
	b, err := os.ReadFile(filepath.Join(m.dir, VersionFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// SaveVersion records version as the token of the cached files.
func (m *Manager) SaveVersion(version string) error {
	if err := os.WriteFile(filepath.Join(m.dir, VersionFile), []byte(version), 0o644); err != nil {
		return types.Wrap(types.ErrIO, err, "write %s", VersionFile)
	}
	return nil
}

// RemoteVersion fetches the current version token from the metadata endpoint.
// It returns false when offline or when the endpoint cannot be read; failures
// are logged, never returned. A successful result is kept for the lifetime of
// the Manager.
func (m *Manager) RemoteVersion(ctx context.Context) (string, bool) {
	if m.remoteVer != "" {
		return m.remoteVer, true
	}
	if m.offline {
		metrics.RecordVersionCheck("offline")
		return "", false
	}

	v, err := m.fetchRemoteVersion(ctx)
	if err != nil {
		m.log.Warn("failed to fetch MTGJSON version from CDN", "url", m.metaURL, "error", err)
		metrics.RecordVersionCheck("error")
		return "", false
	}
	metrics.RecordVersionCheck("ok")
	m.remoteVer = v
	return v, true
}

func (m *Manager) fetchRemoteVersion(ctx context.Context) (string, error) {
	resp, err := m.get(ctx, m.metaURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var doc any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("decode metadata: %w", err)
	}
	v, ok := jsonpath.FirstString(doc, versionPaths...)
	if !ok || v == "" {
		return "", fmt.Errorf("metadata has no version at %s", strings.Join(versionPaths, " or "))
	}
	return v, nil
}

// IsStale reports whether the cached files need refreshing. No local token
// means stale; an unavailable remote token means not stale.
func (m *Manager) IsStale(ctx context.Context) bool {
	local := m.LocalVersion()
	if local == "" {
		return true
	}
	remote, ok := m.RemoteVersion(ctx)
	if !ok {
		return false
	}
	return local != remote
}

// EnsureFile returns the local path of dataset name, downloading it when it
// is missing or the cache is stale. In offline mode an existing file is
// returned as-is and a missing one is ErrNotFound.
func (m *Manager) EnsureFile(ctx context.Context, name string) (string, error) {
	e, err := Lookup(name)
	if err != nil {
		return "", err
	}
	local := m.localPath(e)

	exists := fileExists(local)
	if exists && !m.IsStale(ctx) {
		return local, nil
	}

	if m.offline {
		if exists {
			return local, nil
		}
		return "", types.NotFound("%s file %s not cached and offline mode is enabled", e.Kind, e.Path)
	}

	if err := m.download(ctx, e, local); err != nil {
		return "", err
	}
	if v, ok := m.RemoteVersion(ctx); ok {
		if err := m.SaveVersion(v); err != nil {
			m.log.Warn("failed to record cache version", "version", v, "error", err)
		}
	}
	return local, nil
}

// download fetches e into dest through a temp sibling. The temp file is
// removed on any failure.
func (m *Manager) download(ctx context.Context, e Entry, dest string) (err error) {
	url := m.baseURL + "/" + e.Path
	m.log.Info("downloading", "dataset", e.Name, "url", url)

	start := time.Now()
	status := 0
	var written int64
	defer func() {
		if err != nil {
			status = 0
		}
		metrics.RecordDownload(e.Name, status, written, time.Since(start))
	}()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return types.Wrap(types.ErrIO, err, "create %s", filepath.Dir(dest))
	}

	resp, err := m.get(ctx, url)
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return types.Wrap(types.ErrNetwork, err, "download %s", e.Name)
	}
	defer resp.Body.Close()

	tmp := dest + types.TempSuffix()
	f, err := os.Create(tmp)
	if err != nil {
		return types.Wrap(types.ErrIO, err, "create temp file for %s", e.Name)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	written, err = io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// A body read failure is a transport problem; anything else is local.
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) || errors.Is(err, io.ErrUnexpectedEOF) {
			return types.Wrap(types.ErrNetwork, err, "download %s", e.Name)
		}
		return types.Wrap(types.ErrIO, err, "write %s", tmp)
	}

	if err = os.Rename(tmp, dest); err != nil {
		return types.Wrap(types.ErrIO, err, "rename %s", tmp)
	}
	m.log.Debug("downloaded", "dataset", e.Name, "bytes", written, "duration", time.Since(start))
	return nil
}

// get issues a GET and returns the response only for 2xx statuses. For other
// statuses the response is returned closed, alongside the error, so callers
// can read its status code.
func (m *Manager) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return resp, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// LoadJSON ensures the JSON dataset name is cached and decodes it. Gzip
// content is decompressed transparently, whether or not the file carries a
// .gz extension. Numbers decode as json.Number.
//
// A file that fails to decode is deleted and reported as ErrNotFound
// (wrapping ErrDecode); calling again re-downloads it.
func (m *Manager) LoadJSON(ctx context.Context, name string) (any, error) {
	e, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if e.Kind != types.KindJSON {
		return nil, types.InvalidArgument("dataset %q is %s, not json", name, e.Kind)
	}

	path, err := m.EnsureFile(ctx, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, types.Wrap(types.ErrIO, err, "open %s", path)
	}
	doc, derr := decodeJSON(f, strings.HasSuffix(path, ".gz"))
	f.Close()
	if derr == nil {
		return doc, nil
	}

	m.log.Warn("corrupt cache file, removing", "path", path, "error", derr)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.log.Error("failed to remove corrupt cache file", "path", path, "error", err)
	}
	return nil, &types.Error{
		Kind: types.ErrNotFound,
		Msg:  fmt.Sprintf("cache file %q was corrupt and has been removed; retry to re-download", filepath.Base(path)),
		Err:  fmt.Errorf("%w: %v", types.ErrDecode, derr),
	}
}

var gzipMagic = []byte{0x1f, 0x8b}

func decodeJSON(r io.Reader, gz bool) (any, error) {
	br := bufio.NewReader(r)
	if !gz {
		head, _ := br.Peek(len(gzipMagic))
		gz = bytes.Equal(head, gzipMagic)
	}

	var src io.Reader = br
	if gz {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var doc any
	dec := json.NewDecoder(src)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	// Trailing garbage after the document is corruption too.
	if dec.More() {
		return nil, errors.New("unexpected data after JSON document")
	}
	return doc, nil
}

// Clear deletes every cached file, including version.txt, and recreates the
// empty directory.
func (m *Manager) Clear() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return types.Wrap(types.ErrIO, err, "remove cache dir %s", m.dir)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return types.Wrap(types.ErrIO, err, "create cache dir %s", m.dir)
	}
	m.log.Info("cache cleared", "dir", m.dir)
	return nil
}

// Close releases idle HTTP connections.
func (m *Manager) Close() {
	m.client.CloseIdleConnections()
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
