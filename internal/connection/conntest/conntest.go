// Package conntest builds parquet fixtures for tests of code that queries
// materialized views.
package conntest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mtgjson/mtgjson-go/internal/core/db"
	"github.com/mtgjson/mtgjson-go/internal/types"
)

// Files serves fixture paths by dataset name and counts lookups.
type Files struct {
	mu    sync.Mutex
	paths map[string]string
	calls map[string]int
	err   map[string]error
}

// NewFiles returns an empty fixture set.
func NewFiles() *Files {
	return &Files{
		paths: make(map[string]string),
		calls: make(map[string]int),
		err:   make(map[string]error),
	}
}

// EnsureFile implements connection.Files.
func (f *Files) EnsureFile(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if err, ok := f.err[name]; ok {
		return "", err
	}
	p, ok := f.paths[name]
	if !ok {
		return "", types.NotFound("unknown dataset %q", name)
	}
	return p, nil
}

// Set maps name to path.
func (f *Files) Set(name, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[name] = path
}

// Fail makes every EnsureFile(name) return err.
func (f *Files) Fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err[name] = err
}

// Calls returns how many times name was requested.
func (f *Files) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// WriteParquet runs query in a scratch engine and writes the result to
// dir/<name>.parquet, registering it in files under name.
func WriteParquet(t testing.TB, files *Files, dir, name, query string) string {
	t.Helper()

	engine, err := db.OpenEngine()
	if err != nil {
		t.Fatalf("open scratch engine: %v", err)
	}
	defer engine.Close()

	path := filepath.Join(dir, name+".parquet")
	lit := "'" + strings.ReplaceAll(filepath.ToSlash(path), "'", "''") + "'"
	if _, err := engine.Exec(fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET)", query, lit)); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	if files != nil {
		files.Set(name, path)
	}
	return path
}

// WriteNDJSON writes lines to dir/<name>.ndjson.
func WriteNDJSON(t testing.TB, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name+".ndjson")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// BoosterFixture writes the four booster configuration tables and a cards
// table for one set: booster type "draft", a single template of weight 1
// with sheets common:10, uncommon:3, rare:1. Commons and uncommons disallow
// duplicates; the rare sheet allows them.
func BoosterFixture(t testing.TB, files *Files, dir string) {
	t.Helper()

	WriteParquet(t, files, dir, "set_booster_content_weights", `
		SELECT * FROM (VALUES
			('MH3', 'draft', 0::BIGINT, 1::BIGINT),
			('MH3', 'collector', 0::BIGINT, 1::BIGINT)
		) t("setCode", "boosterName", "boosterIndex", "boosterWeight")`)

	WriteParquet(t, files, dir, "set_booster_contents", `
		SELECT * FROM (VALUES
			('MH3', 'draft', 0::BIGINT, 'common', 10::BIGINT),
			('MH3', 'draft', 0::BIGINT, 'uncommon', 3::BIGINT),
			('MH3', 'draft', 0::BIGINT, 'rare', 1::BIGINT),
			('MH3', 'collector', 0::BIGINT, 'foil', 2::BIGINT)
		) t("setCode", "boosterName", "boosterIndex", "sheetName", "sheetPicks")`)

	WriteParquet(t, files, dir, "set_booster_sheets", `
		SELECT * FROM (VALUES
			('MH3', 'draft', 'common', true, false, false, false, 12::BIGINT),
			('MH3', 'draft', 'uncommon', false, false, false, false, 4::BIGINT),
			('MH3', 'draft', 'rare', false, false, false, true, 3::BIGINT)
		) t("setCode", "boosterName", "sheetName", "sheetHasBalanceColors",
			"sheetIsFoil", "sheetIsFixed", "sheetAllowDuplicates", "totalWeight")`)

	WriteParquet(t, files, dir, "set_booster_sheet_cards", `
		SELECT 'MH3' AS "setCode", 'draft' AS "boosterName", 'common' AS "sheetName",
			'c-' || lpad(i::VARCHAR, 2, '0') AS "cardUuid", 1::BIGINT AS "cardWeight"
		FROM range(12) r(i)
		UNION ALL
		SELECT 'MH3', 'draft', 'uncommon', 'u-' || i::VARCHAR, 1::BIGINT FROM range(4) r(i)
		UNION ALL
		SELECT 'MH3', 'draft', 'rare', 'r-' || i::VARCHAR, (i + 1)::BIGINT FROM range(2) r(i)`)

	WriteParquet(t, files, dir, "cards", `
		SELECT 'c-' || lpad(i::VARCHAR, 2, '0') AS uuid, 'Common ' || i::VARCHAR AS name,
			'common' AS rarity, 'G' AS colors
		FROM range(12) r(i)
		UNION ALL
		SELECT 'u-' || i::VARCHAR, 'Uncommon ' || i::VARCHAR, 'uncommon', 'U, B' FROM range(4) r(i)
		UNION ALL
		SELECT 'r-' || i::VARCHAR, 'Rare ' || i::VARCHAR, 'rare', '' FROM range(2) r(i)`)
}
