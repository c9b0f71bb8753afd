package connection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mtgjson/mtgjson-go/internal/connection/conntest"
	"github.com/mtgjson/mtgjson-go/internal/types"
	"github.com/mtgjson/mtgjson-go/internal/value"
)

func newTestConn(t *testing.T, policy value.Policy) (*Conn, *conntest.Files, string) {
	t.Helper()
	files := conntest.NewFiles()
	c, err := Open(files, Options{Policy: policy})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, files, t.TempDir()
}

const cardsFixture = `
	SELECT * FROM (VALUES
		('a1', 'Lightning Bolt', 'R', 'R', 'Lightning Bolt deals 3 damage to any target, instantly.',
		 'commander, modern', '{"scryfallId":"s-1"}', 'Flash, Haste', ''),
		('b2', 'Counterspell', 'U', '', 'Counter target spell.',
		 '', '{"scryfallId":"s-2"}', NULL, 'x, y')
	) t(uuid, name, colors, "colorIdentity", text, "newThings", identifiers, keywords, subtypes)`

func asStrings(t *testing.T, v any) []string {
	t.Helper()
	list, ok := v.([]any)
	if !ok {
		t.Fatalf("value %#v (%T) is not a list", v, v)
	}
	out := make([]string, len(list))
	for i, e := range list {
		out[i], _ = e.(string)
	}
	return out
}

func TestEnsureView_RewritesListAndJSONColumns(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "cards", cardsFixture)

	if err := c.EnsureViews(ctx, "cards"); err != nil {
		t.Fatalf("EnsureViews: %v", err)
	}

	rows, err := c.Execute(ctx, `SELECT * FROM cards ORDER BY uuid`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	bolt, counter := rows[0], rows[1]

	if got := asStrings(t, bolt["colors"]); !reflect.DeepEqual(got, []string{"R"}) {
		t.Errorf("colors = %v", got)
	}
	if got := asStrings(t, bolt["newThings"]); !reflect.DeepEqual(got, []string{"commander", "modern"}) {
		t.Errorf("heuristic column newThings = %v", got)
	}
	if got := asStrings(t, bolt["keywords"]); !reflect.DeepEqual(got, []string{"Flash", "Haste"}) {
		t.Errorf("keywords = %v", got)
	}
	if got := asStrings(t, counter["colorIdentity"]); len(got) != 0 {
		t.Errorf("empty text must become empty list, got %v", got)
	}
	if got := asStrings(t, counter["keywords"]); len(got) != 0 {
		t.Errorf("NULL must become empty list, got %v", got)
	}
	if got := asStrings(t, counter["subtypes"]); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("subtypes = %v", got)
	}
	if s, ok := bolt["text"].(string); !ok || !strings.Contains(s, ", instantly") {
		t.Errorf("blocked column text was rewritten: %#v", bolt["text"])
	}

	// JSON columns come back as objects or as their JSON text, depending on
	// how the driver surfaces the JSON type; either way the content survives.
	switch id := bolt["identifiers"].(type) {
	case map[string]any:
		if id["scryfallId"] != "s-1" {
			t.Errorf("identifiers = %v", id)
		}
	case string:
		if !strings.Contains(id, "s-1") {
			t.Errorf("identifiers = %q", id)
		}
	default:
		t.Errorf("identifiers has unexpected type %T", id)
	}

	// JSON operators work on the cast column.
	v, ok, err := c.ExecuteScalar(ctx, `SELECT identifiers->>'scryfallId' FROM cards WHERE uuid = ?`, "b2")
	if err != nil || !ok || v != "s-2" {
		t.Errorf("json extract = (%v, %v, %v)", v, ok, err)
	}
}

func TestEnsureViews_Idempotent(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "cards", cardsFixture)
	conntest.WriteParquet(t, files, dir, "sets", `SELECT 'MH3' AS code, 'Modern Horizons 3' AS name`)

	for i := 0; i < 2; i++ {
		if err := c.EnsureViews(ctx, "cards", "sets"); err != nil {
			t.Fatalf("EnsureViews #%d: %v", i, err)
		}
	}
	if got := c.Views(); !reflect.DeepEqual(got, []string{"cards", "sets"}) {
		t.Errorf("Views() = %v", got)
	}
	if n := files.Calls("cards"); n != 1 {
		t.Errorf("cards file requested %d times, want 1", n)
	}
}

func TestResetViews_ForcesReRegistration(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "sets", `SELECT 'MH3' AS code`)

	if err := c.EnsureView(ctx, "sets"); err != nil {
		t.Fatal(err)
	}
	c.ResetViews()
	if c.HasView("sets") {
		t.Fatal("HasView after reset")
	}
	if len(c.Views()) != 0 {
		t.Fatalf("Views() after reset = %v", c.Views())
	}
	if err := c.EnsureView(ctx, "sets"); err != nil {
		t.Fatal(err)
	}
	if n := files.Calls("sets"); n != 2 {
		t.Errorf("file requested %d times, want 2", n)
	}
}

func TestEnsureView_FailureLeavesUnregistered(t *testing.T) {
	ctx := context.Background()
	c, files, _ := newTestConn(t, value.Lossy)

	boom := types.Wrap(types.ErrNetwork, errors.New("connection refused"), "download cards")
	files.Fail("cards", boom)

	err := c.EnsureViews(ctx, "cards")
	if !errors.Is(err, types.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if c.HasView("cards") {
		t.Error("failed registration must leave the view unregistered")
	}

	if err := c.EnsureView(ctx, "unknown_dataset"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("unknown dataset err = %v", err)
	}
}

func TestLegalities_Unpivot(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "card_legalities", `
		SELECT * FROM (VALUES
			('a1', 'Legal', 'Legal', NULL),
			('b2', 'Banned', NULL, 'Restricted')
		) t(uuid, commander, modern, vintage)`)

	if err := c.EnsureView(ctx, "card_legalities"); err != nil {
		t.Fatalf("EnsureView: %v", err)
	}
	rows, err := c.Execute(ctx, `SELECT uuid, format, status FROM card_legalities ORDER BY uuid, format`)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r["uuid"].(string)+":"+r["format"].(string)+":"+r["status"].(string))
	}
	want := []string{"a1:commander:Legal", "a1:modern:Legal", "b2:commander:Banned", "b2:vintage:Restricted"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("legalities = %v, want %v", got, want)
	}
}

func TestLegalities_NewFormatPickedUp(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "card_legalities",
		`SELECT 'a1' AS uuid, 'Legal' AS commander, 'Legal' AS timeless`)

	if err := c.EnsureView(ctx, "card_legalities"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := c.ExecuteScalar(ctx, `SELECT status FROM card_legalities WHERE format = ?`, "timeless")
	if err != nil || !ok || v != "Legal" {
		t.Errorf("timeless = (%v, %v, %v)", v, ok, err)
	}
}

func TestLegalities_RowFormatFallback(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "card_legalities", `SELECT 'a1' AS uuid`)

	if err := c.EnsureView(ctx, "card_legalities"); err != nil {
		t.Fatal(err)
	}
	rows, err := c.Execute(ctx, `SELECT * FROM card_legalities`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["uuid"] != "a1" {
		t.Errorf("rows = %v", rows)
	}
}

func TestExecute_CanonicalValues(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestConn(t, value.Lossy)

	rows, err := c.Execute(ctx, `SELECT
		42::TINYINT AS tiny,
		9000000000::BIGINT AS big,
		170141183460469231731687303715884105727::HUGEINT AS huge,
		12::HUGEINT AS small_huge,
		1.5::DOUBLE AS dbl,
		2.25::DECIMAL(6,2) AS dec,
		'abc'::BLOB AS blob,
		true AS flag,
		NULL AS nothing,
		[1, 2, 3] AS list,
		{'name': 'Bolt', 'cmc': 1} AS obj,
		DATE '2024-01-01' AS day,
		INTERVAL 1 DAY AS span`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	r := rows[0]

	want := map[string]any{
		"tiny":       int64(42),
		"big":        int64(9000000000),
		"huge":       "170141183460469231731687303715884105727",
		"small_huge": int64(12),
		"dbl":        1.5,
		"dec":        2.25,
		"blob":       "blob:616263",
		"flag":       true,
		"nothing":    nil,
		"list":       []any{int64(1), int64(2), int64(3)},
		"obj":        map[string]any{"name": "Bolt", "cmc": int64(1)},
		"day":        nil,
		"span":       nil,
	}
	for col, w := range want {
		if got := r[col]; !reflect.DeepEqual(got, w) {
			t.Errorf("%s = %#v (%T), want %#v", col, got, got, w)
		}
	}
}

func TestExecute_StrictPolicyRejectsTemporal(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestConn(t, value.Strict)

	_, err := c.Execute(ctx, `SELECT DATE '2024-01-01' AS day`)
	if !errors.Is(err, types.ErrQuery) || !errors.Is(err, value.ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrQuery wrapping ErrUnsupportedType", err)
	}

	rows, err := c.Execute(ctx, `SELECT 1 AS one`)
	if err != nil || rows[0]["one"] != int64(1) {
		t.Fatalf("plain values under strict: %v %v", rows, err)
	}
}

func TestExecute_BindsParameters(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestConn(t, value.Lossy)

	tricky := "O'Brien'); DROP TABLE cards; --"
	v, ok, err := c.ExecuteScalar(ctx, `SELECT ?::VARCHAR AS s`, tricky)
	if err != nil || !ok || v != tricky {
		t.Fatalf("ExecuteScalar = (%v, %v, %v)", v, ok, err)
	}
}

func TestExecute_QueryErrors(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestConn(t, value.Lossy)

	_, err := c.Execute(ctx, `SELECT * FROM no_such_view`)
	if !errors.Is(err, types.ErrQuery) {
		t.Fatalf("err = %v, want ErrQuery", err)
	}
	if types.Retryable(err) {
		t.Error("query errors are not retryable")
	}
}

func TestExecuteScalar_Empty(t *testing.T) {
	c, _, _ := newTestConn(t, value.Lossy)
	v, ok, err := c.ExecuteScalar(context.Background(), `SELECT 1 WHERE false`)
	if err != nil || ok || v != nil {
		t.Errorf("ExecuteScalar on empty = (%v, %v, %v)", v, ok, err)
	}
}

func TestExecuteInto(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "sets",
		`SELECT * FROM (VALUES ('MH3', 'Modern Horizons 3', 303), ('LEA', 'Limited Edition Alpha', 295)) t(code, name, "totalSetSize")`)
	if err := c.EnsureView(ctx, "sets"); err != nil {
		t.Fatal(err)
	}

	type set struct {
		Code string `db:"code"`
		Name string `db:"name"`
		Size int64  `db:"totalSetSize"`
	}
	var sets []set
	if err := c.ExecuteInto(ctx, &sets, `SELECT code, name, "totalSetSize" FROM sets ORDER BY code`); err != nil {
		t.Fatalf("ExecuteInto: %v", err)
	}
	if len(sets) != 2 || sets[0].Code != "LEA" || sets[1].Size != 303 {
		t.Errorf("sets = %+v", sets)
	}
}

func TestRegisterTableFromNDJSON(t *testing.T) {
	ctx := context.Background()
	c, _, dir := newTestConn(t, value.Lossy)
	path := conntest.WriteNDJSON(t, dir, "prices",
		`{"uuid":"a1","provider":"tcgplayer","price":1.25}`,
		`{"uuid":"a1","provider":"cardkingdom","price":1.49}`,
	)

	if err := c.RegisterTableFromNDJSON(ctx, "prices_today", path); err != nil {
		t.Fatalf("RegisterTableFromNDJSON: %v", err)
	}
	if !c.HasView("prices_today") {
		t.Error("table not recorded as registered")
	}
	v, _, err := c.ExecuteScalar(ctx, `SELECT COUNT(*) FROM prices_today WHERE uuid = ?`, "a1")
	if err != nil || v != int64(2) {
		t.Errorf("count = %v, %v", v, err)
	}

	// Re-registering replaces the table.
	if err := c.RegisterTableFromNDJSON(ctx, "prices_today", path); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	if err := c.RegisterTableFromNDJSON(ctx, "bad name; DROP", path); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("invalid table name err = %v", err)
	}
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "cards", cardsFixture)

	cols, err := c.Describe(ctx, "cards")
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 9 || cols[0].Name != "uuid" || cols[0].Type != "VARCHAR" {
		t.Errorf("Describe = %+v", cols)
	}
	if c.HasView("cards") {
		t.Error("Describe must not register a view")
	}
}

func TestRestrict(t *testing.T) {
	ctx := context.Background()
	c, files, dir := newTestConn(t, value.Lossy)
	conntest.WriteParquet(t, files, dir, "cards", cardsFixture)

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("hunter2"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := c.Restrict(ctx, dir); err != nil {
		t.Fatalf("Restrict: %v", err)
	}

	// Files inside the allowed directory still materialize.
	if err := c.EnsureViews(ctx, "cards"); err != nil {
		t.Fatalf("EnsureViews after Restrict: %v", err)
	}
	rows, err := c.Execute(ctx, `SELECT count(*) AS n FROM cards`)
	if err != nil || len(rows) != 1 || rows[0]["n"] != int64(2) {
		t.Fatalf("count = %v, %v", rows, err)
	}

	written := filepath.Join(outside, "written.csv")
	denied := []struct {
		name  string
		query string
	}{
		{"read outside", "SELECT content FROM read_text(" + quoteLiteral(filepath.ToSlash(secret)) + ")"},
		{"copy outside", "COPY (SELECT 'x' AS x) TO " + quoteLiteral(filepath.ToSlash(written))},
		{"lift restriction", "SET enable_external_access = true"},
		{"widen directories", "SET allowed_directories = ['/']"},
	}
	for _, tt := range denied {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := c.Execute(ctx, tt.query)
			if err == nil {
				t.Errorf("%s succeeded: %v", tt.query, rows)
			}
		})
	}
	if _, err := os.Stat(written); !os.IsNotExist(err) {
		t.Errorf("COPY wrote outside the allowed directory (stat err %v)", err)
	}
}
