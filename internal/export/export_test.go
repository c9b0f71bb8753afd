package export

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mtgjson/mtgjson-go/internal/core/db"
	"github.com/mtgjson/mtgjson-go/internal/types"
)

func openSQLite(t *testing.T) *Exporter {
	t.Helper()
	e, err := Open("sqlite://" + filepath.Join(t.TempDir(), "export.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestInferTypes(t *testing.T) {
	rows := []types.Row{
		{"n": int64(1), "f": 1.5, "mix": int64(2), "b": true, "s": "x", "l": []any{"a"}, "odd": "x", "null": nil},
		{"n": int64(2), "f": nil, "mix": 2.5, "b": false, "s": nil, "l": map[string]any{"k": "v"}, "odd": int64(3)},
	}
	cols := []string{"n", "f", "mix", "b", "s", "l", "odd", "null"}
	got := inferTypes(cols, rows)
	want := map[string]colType{
		"n":    colInt,
		"f":    colFloat,
		"mix":  colFloat,
		"b":    colBool,
		"s":    colText,
		"l":    colJSON,
		"odd":  colText,
		"null": colText,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("inferTypes = %v, want %v", got, want)
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		v    any
		kind colType
		want any
	}{
		{"nil", nil, colInt, nil},
		{"json list", []any{"a", int64(1)}, colJSON, `["a",1]`},
		{"json object", map[string]any{"k": true}, colJSON, `{"k":true}`},
		{"int widened", int64(3), colFloat, float64(3)},
		{"text keeps string", "hello", colText, "hello"},
		{"text stringifies", int64(7), colText, "7"},
		{"bool passthrough", true, colBool, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encode(tt.v, tt.kind)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("encode(%v) = %#v, want %#v", tt.v, got, tt.want)
			}
		})
	}
}

func TestQuoting(t *testing.T) {
	if got := ansiQuote(`we"ird`); got != `"we""ird"` {
		t.Errorf("ansiQuote = %s", got)
	}
	if got := bracketQuote("we]ird"); got != "[we]]ird]" {
		t.Errorf("bracketQuote = %s", got)
	}
	if got := insertSQL(ansiQuote, "cards", []string{"uuid", "name"}); got != `INSERT INTO "cards" ("uuid", "name") VALUES (?, ?)` {
		t.Errorf("insertSQL = %s", got)
	}
}

func TestExport_SQLite(t *testing.T) {
	ctx := context.Background()
	e := openSQLite(t)
	e.now = func() time.Time { return time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC) }

	rows := []types.Row{
		{"uuid": "a1", "name": "Bolt", "manaValue": 1.0, "edhrecRank": int64(5), "isReprint": true, "colors": []any{"R"}},
		{"uuid": "b2", "name": "Counter", "manaValue": 2.0, "edhrecRank": nil, "isReprint": false, "colors": []any{}},
	}
	res, err := e.Export(ctx, Request{View: "cards", Version: "5.2.2", Rows: rows})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Table != "cards" || res.Rows != 2 || res.ExportID == "" {
		t.Errorf("Result = %+v", res)
	}

	var got []struct {
		UUID   string  `db:"uuid"`
		Name   string  `db:"name"`
		Rank   *int64  `db:"edhrecRank"`
		Mana   float64 `db:"manaValue"`
		Colors string  `db:"colors"`
	}
	if err := e.db.SelectContext(ctx, &got, `SELECT uuid, name, "edhrecRank", "manaValue", colors FROM cards ORDER BY uuid`); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 || got[0].Colors != `["R"]` || got[1].Colors != `[]` || got[1].Rank != nil || *got[0].Rank != 5 {
		t.Errorf("exported rows = %+v", got)
	}

	hist, err := e.History(ctx, "cards")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []Record{{
		ExportID:   res.ExportID,
		View:       "cards",
		Table:      "cards",
		Version:    "5.2.2",
		RowCount:   2,
		ExportedAt: time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC),
	}}
	if !reflect.DeepEqual(hist, want) {
		t.Errorf("History = %+v, want %+v", hist, want)
	}
}

func TestExport_ReplacesTable(t *testing.T) {
	ctx := context.Background()
	e := openSQLite(t)

	first := []types.Row{{"code": "MH3"}, {"code": "LEA"}}
	if _, err := e.Export(ctx, Request{View: "sets", Table: "set_codes", Rows: first}); err != nil {
		t.Fatalf("first export: %v", err)
	}
	second := []types.Row{{"code": "ONE", "size": int64(271)}}
	if _, err := e.Export(ctx, Request{View: "sets", Table: "set_codes", Rows: second}); err != nil {
		t.Fatalf("second export: %v", err)
	}

	var n int
	if err := e.db.GetContext(ctx, &n, `SELECT count(*) FROM set_codes`); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("set_codes has %d rows after replace, want 1", n)
	}
	hist, err := e.History(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Errorf("History has %d entries, want 2", len(hist))
	}
}

func TestExport_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	e := openSQLite(t)

	tests := []struct {
		name string
		req  Request
	}{
		{"bad table", Request{View: "cards", Table: "cards; DROP TABLE x", Rows: []types.Row{{"a": int64(1)}}}},
		{"no columns", Request{View: "cards"}},
		{"export log", Request{View: "cards", Table: "mtgjson_exports", Rows: []types.Row{{"a": int64(1)}}}},
		{"export log upper", Request{View: "cards", Table: "MTGJSON_EXPORTS", Rows: []types.Row{{"a": int64(1)}}}},
		{"migrations", Request{View: "cards", Table: db.MigrationsTable, Rows: []types.Row{{"a": int64(1)}}}},
		{"migrations mixed case", Request{View: "cards", Table: "Mtgjson_Schema_Migrations", Rows: []types.Row{{"a": int64(1)}}}},
		{"view defaults to log", Request{View: "mtgjson_exports", Rows: []types.Row{{"a": int64(1)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Export(ctx, tt.req); !errors.Is(err, types.ErrInvalidArgument) {
				t.Errorf("Export error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	// Bookkeeping survives the rejected requests.
	statuses, err := db.MigrateStatus(ctx, e.db)
	if err != nil {
		t.Fatalf("MigrateStatus: %v", err)
	}
	for _, st := range statuses {
		if !st.Applied {
			t.Errorf("migration %s lost its applied record", st.ID)
		}
	}
	if _, err := e.History(ctx, ""); err != nil {
		t.Errorf("History after rejected exports: %v", err)
	}
}

func TestOpen_RejectsEngine(t *testing.T) {
	if _, err := Open("duckdb://"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Open(duckdb://) error = %v, want ErrInvalidArgument", err)
	}
}
