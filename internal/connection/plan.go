package connection

/*
 * Column adaptation for parquet-backed views.
 *
 * Upstream parquet files store list-valued fields as ", "-joined VARCHAR and
 * struct-valued fields as JSON text. The plan decides, from the file's
 * schema alone, which VARCHAR columns to rebuild:
 *
 *   1. static allow-list: known list columns per view, whatever their name
 *   2. heuristic: any VARCHAR column whose name ends in "s"
 *   3. block-list: scalar text columns the heuristic must never pick
 *      (overrides 2, never 1)
 *   4. JSON set: struct-like columns cast to the engine's JSON type
 *
 * Every candidate must exist as VARCHAR in this file; columns dropped or
 * retyped upstream are skipped silently. Output order is sorted so the
 * generated SQL is stable.
 */

import (
	"fmt"
	"sort"
	"strings"
)

const (
	listDelimiter = ", "
	textType      = "VARCHAR"
)

var staticListColumns = map[string][]string{
	"cards": {
		"artistIds", "attractionLights", "availability", "boosterTypes",
		"cardParts", "colorIdentity", "colorIndicator", "colors", "finishes",
		"frameEffects", "keywords", "originalPrintings", "otherFaceIds",
		"printings", "producedMana", "promoTypes", "rebalancedPrintings",
		"subsets", "subtypes", "supertypes", "types", "variations",
	},
	"tokens": {
		"artistIds", "availability", "boosterTypes", "colorIdentity",
		"colorIndicator", "colors", "finishes", "frameEffects", "keywords",
		"otherFaceIds", "producedMana", "promoTypes", "reverseRelated",
		"subtypes", "supertypes", "types",
	},
}

var blockedColumns = setOf(
	"text", "originalText", "flavorText", "printedText",
	"identifiers", "legalities", "leadershipSkills", "purchaseUrls",
	"relatedCards", "rulings", "sourceProducts", "foreignData",
	"translations", "toughness", "status", "format", "uris", "scryfallUri",
)

var jsonColumns = []string{
	"foreignData", "identifiers", "leadershipSkills", "legalities",
	"purchaseUrls", "relatedCards", "rulings", "sourceProducts",
	"translations",
}

func setOf(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// Column is one introspected column: name and declared engine type.
type Column struct {
	Name string `db:"name" json:"name"`
	Type string `db:"type" json:"type"`
}

// Plan lists the columns a view rewrites.
type Plan struct {
	// Lists are split from delimited text into VARCHAR[].
	Lists []string
	// JSON are cast to the JSON type.
	JSON []string
	// Guessed is the subset of Lists chosen only by the naming heuristic.
	Guessed []string
}

// Empty reports whether the plan rewrites nothing.
func (p Plan) Empty() bool {
	return len(p.Lists) == 0 && len(p.JSON) == 0
}

// BuildPlan computes the rewrite plan for view from its schema.
func BuildPlan(view string, schema []Column) Plan {
	text := make(map[string]bool, len(schema))
	for _, c := range schema {
		if c.Type == textType {
			text[c.Name] = true
		}
	}

	static := setOf(staticListColumns[view]...)
	candidates := make(map[string]bool)
	for name := range static {
		candidates[name] = true
	}
	for _, c := range schema {
		if c.Type != textType {
			continue
		}
		if _, blocked := blockedColumns[c.Name]; blocked {
			continue
		}
		if strings.HasSuffix(c.Name, "s") {
			candidates[c.Name] = true
		}
	}

	var p Plan
	for name := range candidates {
		if !text[name] {
			continue
		}
		p.Lists = append(p.Lists, name)
		if _, ok := static[name]; !ok {
			p.Guessed = append(p.Guessed, name)
		}
	}
	sort.Strings(p.Lists)
	sort.Strings(p.Guessed)

	for _, name := range jsonColumns {
		if text[name] {
			p.JSON = append(p.JSON, name)
		}
	}
	return p
}

// ReplaceClause renders the plan as a DuckDB "REPLACE (...)" star modifier,
// with a leading space, or "" when there is nothing to replace.
func (p Plan) ReplaceClause() string {
	if p.Empty() {
		return ""
	}
	exprs := make([]string, 0, len(p.Lists)+len(p.JSON))
	for _, col := range p.Lists {
		q := quoteIdent(col)
		exprs = append(exprs, fmt.Sprintf(
			"CASE WHEN %s IS NULL OR TRIM(%s) = '' THEN []::VARCHAR[] ELSE string_split(%s, %s) END AS %s",
			q, q, q, quoteLiteral(listDelimiter), q))
	}
	for _, col := range p.JSON {
		q := quoteIdent(col)
		exprs = append(exprs, fmt.Sprintf("TRY_CAST(%s AS JSON) AS %s", q, q))
	}
	return " REPLACE (" + strings.Join(exprs, ", ") + ")"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
