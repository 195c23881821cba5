package tabular

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Measurement is one canonical row. Every power field is always present;
// a column the export did not carry is simply nil all the way down, so the
// loader sees a stable schema.
type Measurement struct {
	Time     time.Time
	TimeUTC5 *time.Time

	UL1, UL2, UL3, UL12 *float64
	IL1, IL2            *float64

	PL1, PL2, PL3, PE     *float64
	Q1L1, Q1L2, Q1L3, Q1E *float64
	SnL1, SnL2, SnL3, SnE *float64
	SL1, SL2, SL3, SE     *float64
}

// TransformStats counts the row-level outcomes of one frame.
type TransformStats struct {
	Rows        int `json:"rows"`
	BadTime     int `json:"bad_time"`
	Transformed int `json:"transformed"`
}

// numberRe extracts the first signed number, scientific notation included,
// after comma decimals are replaced.
var numberRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?`)

// timestampFormats are tried in order before the permissive fallback.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
}

// permissiveFormats covers the long tail of vendor timestamp spellings.
var permissiveFormats = []string{
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02-01-2006 15:04:05",
	"02.01.2006 15:04:05",
	"2006-01-02 15:04:05.000",
	"02/01/2006 15:04",
	"2006-01-02 15:04",
}

// timeOfDayFormats parse the UTC-5 wall-clock column, millisecond
// precision when present.
var timeOfDayFormats = []string{
	"15:04:05.000",
	"15:04:05.00",
	"15:04:05.0",
	"15:04:05",
	"15:04",
}

// Transform converts a parsed frame into canonical measurements. Numeric
// coercion failures become nils; a row whose timestamp cannot be parsed is
// dropped and counted, since a measurement without a time cannot be keyed.
func Transform(f *Frame, logger *slog.Logger) ([]Measurement, TransformStats) {
	if logger == nil {
		logger = slog.Default()
	}
	stats := TransformStats{Rows: len(f.Records)}
	out := make([]Measurement, 0, len(f.Records))

	for _, rec := range f.Records {
		ts, ok := rowTime(f, rec)
		if !ok {
			stats.BadTime++
			continue
		}
		m := Measurement{Time: ts}
		if t, ok := rowTimeOfDay(f, rec); ok {
			m.TimeUTC5 = &t
		}

		m.UL1 = cell(f, rec, ColUL1)
		m.UL2 = cell(f, rec, ColUL2)
		m.UL3 = cell(f, rec, ColUL3)
		m.UL12 = cell(f, rec, ColUL12)
		m.IL1 = cell(f, rec, ColIL1)
		m.IL2 = cell(f, rec, ColIL2)
		m.PL1 = cell(f, rec, ColPL1)
		m.PL2 = cell(f, rec, ColPL2)
		m.PL3 = cell(f, rec, ColPL3)
		m.PE = cell(f, rec, ColPE)
		m.Q1L1 = cell(f, rec, ColQ1L1)
		m.Q1L2 = cell(f, rec, ColQ1L2)
		m.Q1L3 = cell(f, rec, ColQ1L3)
		m.Q1E = cell(f, rec, ColQ1E)
		m.SnL1 = cell(f, rec, ColSnL1)
		m.SnL2 = cell(f, rec, ColSnL2)
		m.SnL3 = cell(f, rec, ColSnL3)
		m.SnE = cell(f, rec, ColSnE)
		m.SL1 = cell(f, rec, ColSL1)
		m.SL2 = cell(f, rec, ColSL2)
		m.SL3 = cell(f, rec, ColSL3)
		m.SE = cell(f, rec, ColSE)

		out = append(out, m)
		stats.Transformed++
	}

	if stats.BadTime > 0 {
		logger.Warn("tabular: rows dropped for unparseable timestamps",
			"path", f.Path, "dropped", stats.BadTime, "kept", stats.Transformed)
	}
	return out, stats
}

// cell coerces the record field bound to col, nil when absent or not
// numeric.
func cell(f *Frame, rec []string, col Column) *float64 {
	idx, ok := f.Columns[col]
	if !ok || idx >= len(rec) {
		return nil
	}
	return ParseNumber(rec[idx])
}

// ParseNumber coerces a vendor cell to a float: whitespace stripped, comma
// decimal to dot, first signed scientific-notation number extracted.
// Returns nil when no number is present.
func ParseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	match := numberRe.FindString(s)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &v
}

// rowTime resolves the row timestamp: the combined time column when bound,
// otherwise date and time columns concatenated.
func rowTime(f *Frame, rec []string) (time.Time, bool) {
	timeIdx, hasTime := f.Columns[ColTime]
	dateIdx, hasDate := f.Columns[ColDate]

	var raw string
	switch {
	case hasTime && timeIdx < len(rec):
		raw = strings.TrimSpace(rec[timeIdx])
		if hasDate && dateIdx < len(rec) && !strings.ContainsAny(raw, "/-.") {
			// Bare wall-clock next to a separate date column.
			raw = strings.TrimSpace(rec[dateIdx]) + " " + raw
		}
	case hasDate && dateIdx < len(rec):
		raw = strings.TrimSpace(rec[dateIdx])
	default:
		return time.Time{}, false
	}
	return ParseTimestamp(raw)
}

// ParseTimestamp tries the explicit formats first, then the permissive
// tail.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	for _, layout := range permissiveFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func rowTimeOfDay(f *Frame, rec []string) (time.Time, bool) {
	idx, ok := f.Columns[ColTimeUTC5]
	if !ok || idx >= len(rec) {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(rec[idx])
	for _, layout := range timeOfDayFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
