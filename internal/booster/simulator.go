// Package booster simulates opening sealed booster packs from the booster
// configuration views: one weighted draw picks a pack layout (template), then
// each sheet in it is drawn from by card weight.
package booster

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/mtgjson/mtgjson-go/internal/logging"
	"github.com/mtgjson/mtgjson-go/internal/metrics"
	"github.com/mtgjson/mtgjson-go/internal/types"
	"github.com/mtgjson/mtgjson-go/internal/value"
)

// Views the simulator reads.
const (
	viewWeights    = "set_booster_content_weights"
	viewContents   = "set_booster_contents"
	viewSheets     = "set_booster_sheets"
	viewSheetCards = "set_booster_sheet_cards"
	viewCards      = "cards"
)

// Querier runs queries against materialized views. *connection.Conn
// implements it.
type Querier interface {
	EnsureViews(ctx context.Context, names ...string) error
	Execute(ctx context.Context, query string, params ...any) ([]types.Row, error)
	ExecuteInto(ctx context.Context, dest any, query string, params ...any) error
}

// Statements looks up named SQL. *db.Queries implements it.
type Statements interface {
	Raw(name string) (string, error)
}

// Template is one possible pack layout.
type Template struct {
	Index  int64
	Weight int64
	Sheets []SheetPick
}

// SheetPick is how many cards a template draws from one sheet.
type SheetPick struct {
	Name  string
	Picks int64
}

// SheetProperties are a sheet's flags. TotalWeight is the declared sum of
// card weights; draws always use the actual weights.
type SheetProperties struct {
	BalanceColors   bool  `json:"balanceColors"`
	Foil            bool  `json:"foil"`
	Fixed           bool  `json:"fixed"`
	AllowDuplicates bool  `json:"allowDuplicates"`
	TotalWeight     int64 `json:"totalWeight"`
}

// Sheet is a named card pool.
type Sheet struct {
	Name  string
	Props SheetProperties
	Cards []WeightedCard
}

// Simulator opens packs.
type Simulator struct {
	q     Querier
	stmts Statements
	rng   RNG
	log   *slog.Logger
}

// New returns a Simulator. A nil rng uses the process-wide generator.
func New(q Querier, stmts Statements, rng RNG) *Simulator {
	if rng == nil {
		rng = globalRNG{}
	}
	return &Simulator{
		q:     q,
		stmts: stmts,
		rng:   rng,
		log:   logging.WithComponent("booster"),
	}
}

func (s *Simulator) run(ctx context.Context, name string, views []string, params ...any) ([]types.Row, error) {
	if err := s.q.EnsureViews(ctx, views...); err != nil {
		return nil, err
	}
	query, err := s.stmts.Raw(name)
	if err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "booster query")
	}
	return s.q.Execute(ctx, query, params...)
}

// AvailableTypes lists the booster types configured for a set, sorted.
// A set without booster data yields an empty list.
func (s *Simulator) AvailableTypes(ctx context.Context, setCode string) ([]string, error) {
	rows, err := s.run(ctx, "booster-types", []string{viewWeights}, strings.ToUpper(setCode))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if name := value.String(r["boosterName"], ""); name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// Templates loads every pack layout for a set and booster type, ordered by
// template index. Sheets within a template are ordered by name.
func (s *Simulator) Templates(ctx context.Context, setCode, boosterType string) ([]Template, error) {
	set := strings.ToUpper(setCode)
	views := []string{viewWeights, viewContents}

	weights, err := s.run(ctx, "booster-weights", views, set, boosterType)
	if err != nil {
		return nil, err
	}
	if len(weights) == 0 {
		return nil, nil
	}

	contents, err := s.run(ctx, "booster-contents", views, set, boosterType)
	if err != nil {
		return nil, err
	}
	sheets := make(map[int64][]SheetPick)
	for _, r := range contents {
		idx := value.Int64(r["boosterIndex"], 0)
		sheets[idx] = append(sheets[idx], SheetPick{
			Name:  value.String(r["sheetName"], ""),
			Picks: value.Int64(r["sheetPicks"], 1),
		})
	}

	out := make([]Template, 0, len(weights))
	for _, r := range weights {
		idx := value.Int64(r["boosterIndex"], 0)
		out = append(out, Template{
			Index:  idx,
			Weight: value.Int64(r["boosterWeight"], 1),
			Sheets: sheets[idx],
		})
	}
	return out, nil
}

type sheetRow struct {
	BalanceColors   sql.NullBool  `db:"sheetHasBalanceColors"`
	Foil            sql.NullBool  `db:"sheetIsFoil"`
	Fixed           sql.NullBool  `db:"sheetIsFixed"`
	AllowDuplicates sql.NullBool  `db:"sheetAllowDuplicates"`
	TotalWeight     sql.NullInt64 `db:"totalWeight"`
}

// Sheet loads a sheet's properties and cards. It returns nil when the sheet
// has no cards configured.
func (s *Simulator) Sheet(ctx context.Context, setCode, boosterType, sheetName string) (*Sheet, error) {
	set := strings.ToUpper(setCode)
	views := []string{viewSheetCards, viewSheets}

	if err := s.q.EnsureViews(ctx, views...); err != nil {
		return nil, err
	}
	propsSQL, err := s.stmts.Raw("booster-sheet")
	if err != nil {
		return nil, types.Wrap(types.ErrQuery, err, "booster query")
	}
	var props []sheetRow
	if err := s.q.ExecuteInto(ctx, &props, propsSQL, set, boosterType, sheetName); err != nil {
		return nil, err
	}

	cardRows, err := s.run(ctx, "booster-sheet-cards", views, set, boosterType, sheetName)
	if err != nil {
		return nil, err
	}
	if len(cardRows) == 0 {
		return nil, nil
	}

	sheet := &Sheet{Name: sheetName}
	if len(props) > 0 {
		p := props[0]
		sheet.Props = SheetProperties{
			BalanceColors:   p.BalanceColors.Valid && p.BalanceColors.Bool,
			Foil:            p.Foil.Valid && p.Foil.Bool,
			Fixed:           p.Fixed.Valid && p.Fixed.Bool,
			AllowDuplicates: p.AllowDuplicates.Valid && p.AllowDuplicates.Bool,
			TotalWeight:     p.TotalWeight.Int64,
		}
	}
	// A card listed twice keeps one pool slot with its last weight.
	slot := make(map[string]int, len(cardRows))
	for _, r := range cardRows {
		uuid := value.String(r["cardUuid"], "")
		if uuid == "" {
			continue
		}
		card := WeightedCard{UUID: uuid, Weight: value.Int64(r["cardWeight"], 1)}
		if i, ok := slot[uuid]; ok {
			sheet.Cards[i] = card
			continue
		}
		slot[uuid] = len(sheet.Cards)
		sheet.Cards = append(sheet.Cards, card)
	}
	return sheet, nil
}

// SheetContents returns a sheet's card weights keyed by card UUID. ok is
// false when the sheet does not exist.
func (s *Simulator) SheetContents(ctx context.Context, setCode, boosterType, sheetName string) (map[string]int64, bool, error) {
	rows, err := s.run(ctx, "booster-sheet-cards", []string{viewSheetCards},
		strings.ToUpper(setCode), boosterType, sheetName)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		if uuid := value.String(r["cardUuid"], ""); uuid != "" {
			out[uuid] = value.Int64(r["cardWeight"], 1)
		}
	}
	return out, true, nil
}

// SheetNames lists the sheets configured for a set and booster type.
func (s *Simulator) SheetNames(ctx context.Context, setCode, boosterType string) ([]string, error) {
	rows, err := s.run(ctx, "booster-sheet-names", []string{viewSheets}, strings.ToUpper(setCode), boosterType)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, value.String(r["sheetName"], ""))
	}
	return out, nil
}

// Draw picks a template and draws card UUIDs from its sheets, in sheet
// order. Sheets referenced by the template but missing from the sheet data
// contribute nothing.
func (s *Simulator) Draw(ctx context.Context, setCode, boosterType string) ([]string, error) {
	templates, err := s.Templates(ctx, setCode, boosterType)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, types.NotFound("no booster configuration found for set %q type %q", setCode, boosterType)
	}

	tmpl := PickTemplate(templates, s.rng)

	var uuids []string
	for _, pick := range tmpl.Sheets {
		if pick.Picks <= 0 {
			continue
		}
		sheet, err := s.Sheet(ctx, setCode, boosterType, pick.Name)
		if err != nil {
			return nil, err
		}
		if sheet == nil {
			s.log.Debug("skipping empty sheet", "set", setCode, "type", boosterType, "sheet", pick.Name)
			continue
		}
		if sheet.Props.AllowDuplicates {
			uuids = append(uuids, WithReplacement(sheet.Cards, int(pick.Picks), s.rng)...)
		} else {
			uuids = append(uuids, WithoutReplacement(sheet.Cards, int(pick.Picks), s.rng)...)
		}
	}
	return uuids, nil
}

// OpenPack opens one pack and returns full card rows in draw order,
// duplicates included. An unconfigured set/type is ErrNotFound; a template
// that draws nothing yields an empty pack.
func (s *Simulator) OpenPack(ctx context.Context, setCode, boosterType string) ([]types.Row, error) {
	uuids, err := s.Draw(ctx, setCode, boosterType)
	if err != nil {
		return nil, err
	}
	metrics.RecordPackOpened(strings.ToUpper(setCode), boosterType)
	if len(uuids) == 0 {
		return []types.Row{}, nil
	}
	return s.fetchCards(ctx, uuids)
}

// OpenBox opens packs independent packs.
func (s *Simulator) OpenBox(ctx context.Context, setCode, boosterType string, packs int) ([][]types.Row, error) {
	if packs < 0 {
		return nil, types.InvalidArgument("pack count must not be negative, got %d", packs)
	}
	out := make([][]types.Row, 0, packs)
	for range packs {
		pack, err := s.OpenPack(ctx, setCode, boosterType)
		if err != nil {
			return nil, err
		}
		out = append(out, pack)
	}
	return out, nil
}

// fetchCards loads card rows for uuids in one query and returns them in the
// order given, repeating rows for repeated UUIDs. UUIDs with no card row are
// dropped.
func (s *Simulator) fetchCards(ctx context.Context, uuids []string) ([]types.Row, error) {
	if err := s.q.EnsureViews(ctx, viewCards); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(uuids))
	params := make([]any, 0, len(uuids))
	for _, u := range uuids {
		if !seen[u] {
			seen[u] = true
			params = append(params, u)
		}
	}
	query := "SELECT * FROM cards WHERE uuid IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ") + ")"

	rows, err := s.q.Execute(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	byUUID := make(map[string]types.Row, len(rows))
	for _, r := range rows {
		if u, ok := r["uuid"].(string); ok {
			byUUID[u] = r
		}
	}

	out := make([]types.Row, 0, len(uuids))
	for _, u := range uuids {
		if r, ok := byUUID[u]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
