package tabular

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/capflow/locale"
)

// Column is a canonical column key.
type Column string

const (
	ColTime     Column = "time"
	ColTimeUTC5 Column = "time_utc5"
	ColDate     Column = "date"

	ColUL1  Column = "u_l1"
	ColUL2  Column = "u_l2"
	ColUL3  Column = "u_l3"
	ColUL12 Column = "u_l12"

	ColIL1 Column = "i_l1"
	ColIL2 Column = "i_l2"

	ColPL1 Column = "p_l1"
	ColPL2 Column = "p_l2"
	ColPL3 Column = "p_l3"
	ColPE  Column = "p_e"

	ColQ1L1 Column = "q1_l1"
	ColQ1L2 Column = "q1_l2"
	ColQ1L3 Column = "q1_l3"
	ColQ1E  Column = "q1_e"

	ColSnL1 Column = "sn_l1"
	ColSnL2 Column = "sn_l2"
	ColSnL3 Column = "sn_l3"
	ColSnE  Column = "sn_e"

	ColSL1 Column = "s_l1"
	ColSL2 Column = "s_l2"
	ColSL3 Column = "s_l3"
	ColSE  Column = "s_e"
)

// subscriptFolder maps Unicode subscript runes to their ASCII forms, and
// HTML sub/sup tags to spaces, so "U L₁", "Sₙ" and "P<sub>L1</sub>" header
// variants all fold onto the same patterns. Folding the tags to spaces
// keeps the word boundary that plain tag stripping would collapse.
var subscriptFolder = strings.NewReplacer(
	"₀", "0", "₁", "1", "₂", "2", "₃", "3", "₄", "4",
	"₅", "5", "₆", "6", "₇", "7", "₈", "8", "₉", "9",
	"ₙ", "n", "ₑ", "e",
	"<sub>", " ", "</sub>", " ", "<sup>", " ", "</sup>", " ",
)

// normalizeHeader folds a raw header cell for pattern matching: HTML
// sub-tags and subscripts to ASCII, diacritics folded, lowercase.
func normalizeHeader(raw string) string {
	return locale.Normalize(subscriptFolder.Replace(raw))
}

// pattern order matters twice: combined timestamp columns must win over
// bare date columns, and Sn must bind before plain S so the apparent
// pattern never absorbs the non-fundamental column.
var columnPatterns = []struct {
	col Column
	re  *regexp.Regexp
}{
	{ColTimeUTC5, regexp.MustCompile(`utc\s*5`)},
	{ColTime, regexp.MustCompile(`fecha y hora|date\s*time|datetime|timestamp|\b(hora|time|zeit|heure)\b`)},
	{ColDate, regexp.MustCompile(`\b(fecha|date|datum)\b`)},

	{ColUL12, regexp.MustCompile(`\b(u|v|tension|voltage|spannung)\b.*(\bl?\s*12\b|\bl\s*1\b.*\bl\s*2\b)`)},
	{ColUL1, regexp.MustCompile(`\b(u|v|tension|voltage|spannung)\b.*\bl?\s*1\b`)},
	{ColUL2, regexp.MustCompile(`\b(u|v|tension|voltage|spannung)\b.*\bl?\s*2\b`)},
	{ColUL3, regexp.MustCompile(`\b(u|v|tension|voltage|spannung)\b.*\bl?\s*3\b`)},

	{ColIL1, regexp.MustCompile(`\b(i|corriente|current|strom|courant|intensidad)\b.*\bl?\s*1\b`)},
	{ColIL2, regexp.MustCompile(`\b(i|corriente|current|strom|courant|intensidad)\b.*\bl?\s*2\b`)},

	{ColQ1L1, regexp.MustCompile(`\bq\s*1?\b.*\bl\s*1\b`)},
	{ColQ1L2, regexp.MustCompile(`\bq\s*1?\b.*\bl\s*2\b`)},
	{ColQ1L3, regexp.MustCompile(`\bq\s*1?\b.*\bl\s*3\b`)},
	{ColQ1E, regexp.MustCompile(`\bq\s*1?\b.*\b(e|iii|tot|total|sum|suma)\b`)},

	{ColSnL1, regexp.MustCompile(`\bsn\b.*\bl\s*1\b`)},
	{ColSnL2, regexp.MustCompile(`\bsn\b.*\bl\s*2\b`)},
	{ColSnL3, regexp.MustCompile(`\bsn\b.*\bl\s*3\b`)},
	{ColSnE, regexp.MustCompile(`\bsn\b.*\b(e|iii|tot|total|sum|suma)\b`)},

	{ColPL1, regexp.MustCompile(`\b(p|potencia|power|leistung|puissance|activa|active)\b.*\bl\s*1\b`)},
	{ColPL2, regexp.MustCompile(`\b(p|potencia|power|leistung|puissance|activa|active)\b.*\bl\s*2\b`)},
	{ColPL3, regexp.MustCompile(`\b(p|potencia|power|leistung|puissance|activa|active)\b.*\bl\s*3\b`)},
	{ColPE, regexp.MustCompile(`\b(p|potencia|power|leistung|puissance|activa|active)\b.*\b(e|iii|tot|total|sum|suma)\b`)},

	{ColSL1, regexp.MustCompile(`\bs\b.*\bl\s*1\b`)},
	{ColSL2, regexp.MustCompile(`\bs\b.*\bl\s*2\b`)},
	{ColSL3, regexp.MustCompile(`\bs\b.*\bl\s*3\b`)},
	{ColSE, regexp.MustCompile(`\bs\b.*\b(e|iii|tot|total|sum|suma)\b`)},
}

// requiredColumns is the validation minimum: a header that cannot supply
// these is not the measurement table.
var requiredColumns = []Column{ColTime, ColUL1, ColUL2, ColPL1, ColPL2}

// DetectColumns maps canonical columns to header indexes. Each header cell
// binds at most once, in pattern order, so earlier patterns claim
// ambiguous cells.
func DetectColumns(header []string) map[Column]int {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}
	bound := make(map[int]bool, len(header))
	out := make(map[Column]int)
	for _, p := range columnPatterns {
		if _, ok := out[p.col]; ok {
			continue
		}
		for i, h := range normalized {
			if bound[i] || h == "" {
				continue
			}
			if p.re.MatchString(h) {
				out[p.col] = i
				bound[i] = true
				break
			}
		}
	}
	return out
}

// Validate reports whether the detected columns carry the required
// minimum set.
func Validate(cols map[Column]int) bool {
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return false
		}
	}
	return true
}
