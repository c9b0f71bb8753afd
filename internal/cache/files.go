package cache

import (
	"sort"

	"github.com/mtgjson/mtgjson-go/internal/types"
)

// Entry is one fetchable dataset: a logical name and where it lives on the
// CDN, relative to the base URL. The same relative path is used under the
// cache directory.
type Entry struct {
	Name string
	Path string
	Kind types.FileKind
}

var parquetFiles = map[string]string{
	// flat normalized tables
	"cards":              "parquet/cards.parquet",
	"tokens":             "parquet/tokens.parquet",
	"sets":               "parquet/sets.parquet",
	"card_identifiers":   "parquet/cardIdentifiers.parquet",
	"card_legalities":    "parquet/cardLegalities.parquet",
	"card_foreign_data":  "parquet/cardForeignData.parquet",
	"card_rulings":       "parquet/cardRulings.parquet",
	"card_purchase_urls": "parquet/cardPurchaseUrls.parquet",
	"set_translations":   "parquet/setTranslations.parquet",
	"token_identifiers":  "parquet/tokenIdentifiers.parquet",

	// booster configuration
	"set_booster_content_weights": "parquet/setBoosterContentWeights.parquet",
	"set_booster_contents":        "parquet/setBoosterContents.parquet",
	"set_booster_sheet_cards":     "parquet/setBoosterSheetCards.parquet",
	"set_booster_sheets":          "parquet/setBoosterSheets.parquet",

	// full nested, prices and SKUs
	"all_printings":    "parquet/AllPrintings.parquet",
	"all_prices_today": "parquet/AllPricesToday.parquet",
	"all_prices":       "parquet/AllPrices.parquet",
	"tcgplayer_skus":   "parquet/TcgplayerSkus.parquet",
}

var jsonFiles = map[string]string{
	"keywords":    "Keywords.json",
	"card_types":  "CardTypes.json",
	"deck_list":   "DeckList.json",
	"enum_values": "EnumValues.json",
	"meta":        "Meta.json",
}

// Lookup returns the dataset entry for name. Unknown names are ErrNotFound.
func Lookup(name string) (Entry, error) {
	if p, ok := parquetFiles[name]; ok {
		return Entry{Name: name, Path: p, Kind: types.KindParquet}, nil
	}
	if p, ok := jsonFiles[name]; ok {
		return Entry{Name: name, Path: p, Kind: types.KindJSON}, nil
	}
	return Entry{}, types.NotFound("unknown dataset %q", name)
}

// Names returns every known dataset name of the given kind, sorted.
func Names(kind types.FileKind) []string {
	src := parquetFiles
	if kind == types.KindJSON {
		src = jsonFiles
	}
	out := make([]string, 0, len(src))
	for name := range src {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
