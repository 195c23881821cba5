// Package tabular parses the vendor's exported measurement tables.
//
// Nothing about these files is stable: the separator, the encoding, the
// number of metadata lines above the header and the header language all
// vary between vendor versions and console locales. The parser brute-forces
// the dialect: every (separator, encoding) pair with the header at row 0,
// then with the header pushed down up to 20 rows, then a line-by-line hint
// scan. The first combination whose detected columns validate wins.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ErrNoValidLayout is returned when no dialect combination yields the
// required columns.
var ErrNoValidLayout = errors.New("tabular: no separator/encoding/header combination validates")

// maxHeaderScan bounds how deep the skip-rows retry looks for the header.
const maxHeaderScan = 20

// Frame is a parsed table plus the dialect that produced it.
type Frame struct {
	Path      string
	Header    []string
	Records   [][]string
	Columns   map[Column]int
	Encoding  string
	Separator rune
	HeaderRow int
}

var separators = []rune{';', ',', '\t', '|'}

// candidate encodings in trial order. utf-8 goes first and is gated on
// byte validity, because the single-byte charmaps accept anything.
var encodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"utf-8", unicode.UTF8},
	{"utf-16", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
	{"utf-16le", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)},
	{"utf-16be", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)},
	{"windows-1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
	{"iso-8859-15", charmap.ISO8859_15},
}

// headerHintRe spots probable header lines beyond the skip-rows window:
// date/time words, phase labels, a voltage word.
var headerHintRe = regexp.MustCompile(`\b(fecha|hora|date|time|datum|zeit|heure|tension|voltage|spannung)\b|\bl\s*1\b`)

// Parse reads the export at path and returns the first validating frame.
func Parse(path string, logger *slog.Logger) (*Frame, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: read %s: %w", path, err)
	}

	decoded := decodeAll(raw)
	if len(decoded) == 0 {
		return nil, fmt.Errorf("%w: %s undecodable", ErrNoValidLayout, path)
	}

	// Header at row 0 across all dialects first, then pushed down.
	for skip := 0; skip <= maxHeaderScan; skip++ {
		for _, d := range decoded {
			if skip >= len(d.lines) {
				continue
			}
			if f := tryLayout(path, d, skip); f != nil {
				logger.Info("tabular: layout detected", "path", path,
					"encoding", f.Encoding, "separator", string(f.Separator),
					"header_row", f.HeaderRow, "columns", len(f.Columns))
				return f, nil
			}
		}
	}

	// Hint scan: some vendor versions bury the header below the skip
	// window.
	for _, d := range decoded {
		for i := maxHeaderScan + 1; i < len(d.lines); i++ {
			if !headerHintRe.MatchString(normalizeHeader(d.lines[i])) {
				continue
			}
			if f := tryLayout(path, d, i); f != nil {
				logger.Info("tabular: layout detected by hint scan", "path", path,
					"encoding", f.Encoding, "header_row", f.HeaderRow)
				return f, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoValidLayout, path)
}

type decodedText struct {
	name  string
	lines []string
}

// decodeAll decodes the raw bytes under every candidate encoding that
// accepts them.
func decodeAll(raw []byte) []decodedText {
	var out []decodedText
	seen := make(map[string]bool)
	for _, e := range encodings {
		var text string
		if e.name == "utf-8" {
			if !utf8.Valid(bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})) {
				continue
			}
			text = string(bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF}))
		} else {
			b, err := e.enc.NewDecoder().Bytes(raw)
			if err != nil {
				continue
			}
			text = strings.TrimPrefix(string(b), "\uFEFF")
		}
		// Distinct encodings often decode to identical text; trying the
		// duplicate again buys nothing.
		if seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, decodedText{name: e.name, lines: splitLines(text)})
	}
	return out
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

// tryLayout interprets line skip as the header and everything below as
// data, across all separators.
func tryLayout(path string, d decodedText, skip int) *Frame {
	headerLine := d.lines[skip]
	for _, sep := range separators {
		if !strings.ContainsRune(headerLine, sep) {
			continue
		}
		r := csv.NewReader(strings.NewReader(strings.Join(d.lines[skip:], "\n")))
		r.Comma = sep
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		records, err := r.ReadAll()
		if err != nil || len(records) == 0 {
			continue
		}
		header := records[0]
		cols := DetectColumns(header)
		if !Validate(cols) {
			continue
		}
		var rows [][]string
		for _, rec := range records[1:] {
			if isBlank(rec) {
				continue
			}
			rows = append(rows, rec)
		}
		return &Frame{
			Path:      path,
			Header:    header,
			Records:   rows,
			Columns:   cols,
			Encoding:  d.name,
			Separator: sep,
			HeaderRow: skip,
		}
	}
	return nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
