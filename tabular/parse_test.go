package tabular

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const spanishHeader = "Fecha/Hora;Hora (UTC-5);Tensión L1 Med (V);Tensión L2 Med (V);U L12 (V);I L1 Med (A);P L1 Med (kW);P L2 Med (kW)"

const spanishRows = "01/05/2023 00:10:00;00:10:00.000;120,5;119,8;208,3;5,2;1,10E+03;2,0\n" +
	"01/05/2023 00:20:00;00:20:00.000;120,7;119,9;208,5;5,3;1,12E+03;2,1\n"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseUTF8Semicolon(t *testing.T) {
	path := writeFile(t, "export.csv", []byte(spanishHeader+"\n"+spanishRows))

	f, err := Parse(path, discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Separator != ';' || f.HeaderRow != 0 || f.Encoding != "utf-8" {
		t.Fatalf("dialect %q/%c/row%d", f.Encoding, f.Separator, f.HeaderRow)
	}
	if len(f.Records) != 2 {
		t.Fatalf("records %d, want 2", len(f.Records))
	}
	if _, ok := f.Columns[ColUL12]; !ok {
		t.Fatal("u_l12 not detected")
	}
}

func TestParseWindows1252(t *testing.T) {
	enc, err := charmap.Windows1252.NewEncoder().String(spanishHeader + "\n" + spanishRows)
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "export.csv", []byte(enc))

	f, err := Parse(path, discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// The ó byte is invalid utf-8, so a single-byte charmap must have
	// decoded it.
	if f.Encoding != "windows-1252" && f.Encoding != "iso-8859-1" {
		t.Fatalf("encoding %q, want a single-byte charmap", f.Encoding)
	}
	if _, ok := f.Columns[ColUL1]; !ok {
		t.Fatal("tensión header not mapped to u_l1")
	}
}

func TestParseUTF16Tab(t *testing.T) {
	text := strings.ReplaceAll(spanishHeader, ";", "\t") + "\n" +
		strings.ReplaceAll(spanishRows, ";", "\t")
	enc, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(text)
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "export.csv", []byte(enc))

	f, err := Parse(path, discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Separator != '\t' {
		t.Fatalf("separator %q, want tab", f.Separator)
	}
	if len(f.Records) != 2 {
		t.Fatalf("records %d, want 2", len(f.Records))
	}
}

func TestParseHeaderAtRow17(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Registrador XR-500\n")
	sb.WriteString("Serie: 0042\n")
	for i := 0; i < 15; i++ {
		sb.WriteString("metadato\n")
	}
	sb.WriteString(spanishHeader + "\n")
	sb.WriteString(spanishRows)
	path := writeFile(t, "export.csv", []byte(sb.String()))

	f, err := Parse(path, discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.HeaderRow != 17 {
		t.Fatalf("header row %d, want 17", f.HeaderRow)
	}
	if len(f.Records) != 2 {
		t.Fatalf("records %d, want 2", len(f.Records))
	}
}

func TestParseHeaderBeyondSkipWindowByHint(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 25; i++ {
		sb.WriteString("metadato\n")
	}
	sb.WriteString(spanishHeader + "\n")
	sb.WriteString(spanishRows)
	path := writeFile(t, "export.csv", []byte(sb.String()))

	f, err := Parse(path, discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.HeaderRow != 25 {
		t.Fatalf("header row %d, want 25", f.HeaderRow)
	}
}

func TestParseCommaSeparatedDotDecimals(t *testing.T) {
	data := "Date time,U L1 (V),U L2 (V),P L1 (kW),P L2 (kW)\n" +
		"2023-05-01 00:10:00,120.5,119.8,1100.0,2.0\n"
	path := writeFile(t, "export.csv", []byte(data))

	f, err := Parse(path, discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Separator != ',' {
		t.Fatalf("separator %q, want comma", f.Separator)
	}
}

func TestParseRejectsUnrecognizableFile(t *testing.T) {
	path := writeFile(t, "export.csv", []byte("a;b;c\n1;2;3\n"))
	if _, err := Parse(path, discardLogger()); err == nil {
		t.Fatal("Parse accepted a file without the required columns")
	}

	path = writeFile(t, "noise.csv", []byte("colA,colB\nx,y\n"))
	if _, err := Parse(path, discardLogger()); err == nil {
		t.Fatal("Parse accepted unrelated tabular data")
	}
}
