// Package sdktest serves booster fixtures from a fake CDN and opens sessions
// against it.
package sdktest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/mtgjson/mtgjson-go/internal/booster"
	"github.com/mtgjson/mtgjson-go/internal/cache"
	"github.com/mtgjson/mtgjson-go/internal/connection/conntest"
	"github.com/mtgjson/mtgjson-go/internal/sdk"
	"github.com/mtgjson/mtgjson-go/internal/types"
)

// Version is the token the fake CDN publishes until SetVersion changes it.
const Version = "5.2.2+20240101"

// CDN is an httptest server holding the booster fixture plus a sets table.
type CDN struct {
	Server *httptest.Server

	mu      sync.Mutex
	version string
	files   map[string][]byte
	hits    map[string]int
}

// NewCDN builds the fixture parquet files and starts serving them.
func NewCDN(t testing.TB) *CDN {
	t.Helper()
	dir := t.TempDir()
	files := conntest.NewFiles()
	conntest.BoosterFixture(t, files, dir)
	conntest.WriteParquet(t, files, dir, "sets", `
		SELECT * FROM (VALUES
			('MH3', 'Modern Horizons 3', 'draft_innovation', DATE '2024-06-14', 303::BIGINT),
			('LEA', 'Limited Edition Alpha', 'core', DATE '1993-08-05', 295::BIGINT)
		) t(code, name, type, "releaseDate", "totalSetSize")`)

	c := &CDN{
		version: Version,
		files:   make(map[string][]byte),
		hits:    make(map[string]int),
	}
	for _, name := range cache.Names(types.KindParquet) {
		p, err := files.EnsureFile(context.Background(), name)
		if err != nil {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read fixture %s: %v", p, err)
		}
		e, _ := cache.Lookup(name)
		c.files["/"+e.Path] = b
	}
	c.files["/Keywords.json"] = []byte(`{"data":{"abilityWords":["Adamant","Landfall"]}}`)

	c.Server = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.Server.Close)
	return c
}

func (c *CDN) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[r.URL.Path]++

	if r.URL.Path == "/Meta.json" {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"meta": map[string]any{"version": c.version, "date": "2024-01-01"},
			"data": map[string]any{"version": c.version, "date": "2024-01-01"},
		})
		return
	}
	b, ok := c.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(b)
}

// SetVersion changes the published version token.
func (c *CDN) SetVersion(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = v
}

// Hits returns how often path was requested.
func (c *CDN) Hits(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

// Options returns session options pointed at the fake CDN with a seeded
// generator.
func (c *CDN) Options(dir string, seed uint64) sdk.Options {
	return sdk.Options{
		CacheDir: dir,
		Timeout:  5 * time.Second,
		BaseURL:  c.Server.URL,
		MetaURL:  c.Server.URL + "/Meta.json",
		Rand:     booster.NewRand(seed),
	}
}

// Open starts a session against the fake CDN in a fresh cache directory.
func (c *CDN) Open(t testing.TB) *sdk.Session {
	t.Helper()
	s, err := sdk.Open(c.Options(t.TempDir(), 1))
	if err != nil {
		t.Fatalf("sdk.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
