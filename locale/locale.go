package locale

import "strings"

// ControlID names a logical UI control independent of display language.
type ControlID string

const (
	ControlAnalysis      ControlID = "analysis"       // analysis window title word
	ControlConfiguration ControlID = "configuration1" // configuration tree item / window suffix
	ControlDataAnalysis  ControlID = "data_analysis"  // button to enter the configuration view
	ControlSelectAll     ControlID = "select_all"     // master checkbox
	ControlExpandAll     ControlID = "expand_all"     // tree expand button
	ControlUserRadio     ControlID = "user"           // user-defined filter radio
	ControlReports       ControlID = "reports"        // reports menu button
	ControlSave          ControlID = "save"           // save dialog confirm button
	ControlImagesCombo   ControlID = "images"         // file-type combo label in the save dialog
)

// FilterID names one of the aggregate filter checkboxes.
type FilterID string

const (
	FilterMin     FilterID = "MIN"
	FilterMax     FilterID = "MAX"
	FilterInstant FilterID = "INSTANT"
)

// translations maps a logical control to its display text per locale code.
// Values are stored pre-normalized (lowercase, no diacritics) so matching
// never re-folds the table at runtime.
var translations = map[ControlID]map[string]string{
	ControlAnalysis: {
		"es": "analisis", "en": "analysis", "de": "analyse", "fr": "analyse",
	},
	ControlConfiguration: {
		"es": "configuracion 1", "en": "configuration 1", "de": "konfiguration 1", "fr": "configuration 1",
	},
	ControlDataAnalysis: {
		"es": "analisis de datos", "en": "data analysis", "de": "datenanalyse", "fr": "analyse des donnees",
	},
	ControlSelectAll: {
		"es": "seleccionar todo", "en": "select all", "de": "alles auswahlen", "fr": "tout selectionner",
	},
	ControlExpandAll: {
		"es": "expandir todo", "en": "expand all", "de": "alles erweitern", "fr": "tout developper",
	},
	ControlUserRadio: {
		"es": "usuario", "en": "user", "de": "benutzer", "fr": "utilisateur",
	},
	ControlReports: {
		"es": "informes", "en": "reports", "de": "berichte", "fr": "rapports",
	},
	ControlSave: {
		"es": "guardar", "en": "save", "de": "speichern", "fr": "enregistrer",
	},
	ControlImagesCombo: {
		"es": "imagenes", "en": "images", "de": "bilder", "fr": "images",
	},
}

// filterLabels maps normalized label fragments to filter IDs. Order matters:
// "min" is tested before "inst" so "minimum instantaneo" style combined
// labels resolve to the leading word.
var filterLabels = []struct {
	fragments []string
	id        FilterID
}{
	{[]string{"minimum", "minimo", "min"}, FilterMin},
	{[]string{"maximum", "maximo", "max"}, FilterMax},
	{[]string{"instantaneous", "instantaneo", "instant", "inst"}, FilterInstant},
}

// Table resolves translations for a configured locale set.
type Table struct {
	locales []string
}

// NewTable builds a Table for the given locale codes (es, en, de, fr).
// Unknown codes are ignored; an empty result set falls back to all locales.
func NewTable(locales []string) *Table {
	var known []string
	for _, l := range locales {
		if _, ok := translations[ControlAnalysis][l]; ok {
			known = append(known, l)
		}
	}
	if len(known) == 0 {
		known = []string{"es", "en", "de", "fr"}
	}
	return &Table{locales: known}
}

// Translations returns the normalized display texts of a control across the
// configured locales, deduplicated (fr/en share several labels).
func (t *Table) Translations(id ControlID) []string {
	byLocale, ok := translations[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(t.locales))
	var out []string
	for _, l := range t.locales {
		v := byLocale[l]
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Match reports whether observed text contains any translation of id.
func (t *Table) Match(observed string, id ControlID) bool {
	normalized := Normalize(observed)
	for _, tr := range t.Translations(id) {
		if strings.Contains(normalized, tr) {
			return true
		}
	}
	return false
}

// MatchEnd reports whether observed text ends with any translation of id.
// The window connector uses this to reject configuration-window titles,
// which share the analysis base title plus a "Configuration 1" suffix.
func (t *Table) MatchEnd(observed string, id ControlID) bool {
	normalized := Normalize(observed)
	for _, tr := range t.Translations(id) {
		if strings.HasSuffix(normalized, tr) {
			return true
		}
	}
	return false
}

// ClassifyFilter maps a localized checkbox label to its logical filter ID.
// Returns false when the label matches no known filter word.
func ClassifyFilter(label string) (FilterID, bool) {
	normalized := Normalize(label)
	for _, fl := range filterLabels {
		for _, frag := range fl.fragments {
			if strings.Contains(normalized, frag) {
				return fl.id, true
			}
		}
	}
	return "", false
}
