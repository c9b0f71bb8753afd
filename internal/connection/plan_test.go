package connection

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildPlan(t *testing.T) {
	tests := []struct {
		name        string
		view        string
		schema      []Column
		wantLists   []string
		wantJSON    []string
		wantGuessed []string
	}{
		{
			name: "static_allow_list_without_plural_name",
			view: "cards",
			schema: []Column{
				{"uuid", "VARCHAR"},
				{"colorIdentity", "VARCHAR"},
				{"availability", "VARCHAR"},
				{"manaValue", "DOUBLE"},
			},
			wantLists: []string{"availability", "colorIdentity"},
		},
		{
			name: "heuristic_picks_new_plural_column",
			view: "cards",
			schema: []Column{
				{"uuid", "VARCHAR"},
				{"newFeatureTags", "VARCHAR"},
				{"colors", "VARCHAR"},
			},
			wantLists:   []string{"colors", "newFeatureTags"},
			wantGuessed: []string{"newFeatureTags"},
		},
		{
			name: "block_list_overrides_heuristic",
			view: "cards",
			schema: []Column{
				{"text", "VARCHAR"},
				{"status", "VARCHAR"},
				{"uris", "VARCHAR"},
				{"toughness", "VARCHAR"},
				{"rulings", "VARCHAR"},
			},
			wantJSON: []string{"rulings"},
		},
		{
			name: "candidates_must_be_varchar_in_this_file",
			view: "cards",
			schema: []Column{
				{"colors", "VARCHAR[]"},
				{"printings", "INTEGER"},
				{"keywords", "VARCHAR"},
				{"identifiers", "STRUCT(scryfallId VARCHAR)"},
			},
			wantLists: []string{"keywords"},
		},
		{
			name: "json_cast_set",
			view: "sets",
			schema: []Column{
				{"code", "VARCHAR"},
				{"translations", "VARCHAR"},
				{"identifiers", "VARCHAR"},
				{"languages", "VARCHAR"},
			},
			wantLists:   []string{"languages"},
			wantJSON:    []string{"identifiers", "translations"},
			wantGuessed: []string{"languages"},
		},
		{
			name: "tokens_static_list",
			view: "tokens",
			schema: []Column{
				{"reverseRelated", "VARCHAR"},
				{"name", "VARCHAR"},
			},
			wantLists: []string{"reverseRelated"},
		},
		{
			name:   "nothing_to_rewrite",
			view:   "card_rulings",
			schema: []Column{{"uuid", "VARCHAR"}, {"date", "DATE"}, {"text", "VARCHAR"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BuildPlan(tt.view, tt.schema)
			if !reflect.DeepEqual(p.Lists, tt.wantLists) {
				t.Errorf("Lists = %v, want %v", p.Lists, tt.wantLists)
			}
			if !reflect.DeepEqual(p.JSON, tt.wantJSON) {
				t.Errorf("JSON = %v, want %v", p.JSON, tt.wantJSON)
			}
			if !reflect.DeepEqual(p.Guessed, tt.wantGuessed) {
				t.Errorf("Guessed = %v, want %v", p.Guessed, tt.wantGuessed)
			}
		})
	}
}

func TestPlan_ReplaceClause(t *testing.T) {
	if got := (Plan{}).ReplaceClause(); got != "" {
		t.Errorf("empty plan clause = %q", got)
	}

	p := Plan{Lists: []string{"colors"}, JSON: []string{"identifiers"}}
	want := ` REPLACE (CASE WHEN "colors" IS NULL OR TRIM("colors") = '' THEN []::VARCHAR[] ELSE string_split("colors", ', ') END AS "colors", TRY_CAST("identifiers" AS JSON) AS "identifiers")`
	if got := p.ReplaceClause(); got != want {
		t.Errorf("ReplaceClause() =\n%s\nwant\n%s", got, want)
	}
}

func TestQuoting(t *testing.T) {
	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("quoteIdent = %s", got)
	}
	if got := quoteLiteral("/tmp/o'brien/cards.parquet"); got != `'/tmp/o''brien/cards.parquet'` {
		t.Errorf("quoteLiteral = %s", got)
	}
	if !strings.HasPrefix(parquetSource(`C:\cache\cards.parquet`), "read_parquet('") {
		t.Error("parquetSource must wrap read_parquet")
	}
}
