package tabular

import (
	"testing"
	"time"
)

func frameFor(header []string, records [][]string) *Frame {
	return &Frame{
		Path:    "test.csv",
		Header:  header,
		Records: records,
		Columns: DetectColumns(header),
	}
}

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		nil_ bool
	}{
		{"120,5", 120.5, false},
		{"120.5", 120.5, false},
		{"1,10E+03", 1100, false},
		{"-3,2e-01", -0.32, false},
		{"  42  ", 42, false},
		{"", 0, true},
		{"N/A", 0, true},
		{"---", 0, true},
	}
	for _, c := range cases {
		got := ParseNumber(c.in)
		if c.nil_ {
			if got != nil {
				t.Errorf("ParseNumber(%q) = %v, want nil", c.in, *got)
			}
			continue
		}
		if got == nil {
			t.Errorf("ParseNumber(%q) = nil, want %v", c.in, c.want)
			continue
		}
		if *got != c.want {
			t.Errorf("ParseNumber(%q) = %v, want %v", c.in, *got, c.want)
		}
	}
}

func TestTransformSpanishFrame(t *testing.T) {
	f := frameFor(
		[]string{"Fecha/Hora", "Hora (UTC-5)", "U L1", "U L2", "P L1", "P L2", "Q1 L1"},
		[][]string{
			{"01/05/2023 00:10:00", "00:10:00.000", "120,5", "119,8", "1,10E+03", "2,0", ""},
			{"01/05/2023 00:20:00", "00:20:00.000", "120,7", "", "1,12E+03", "2,1", "0,4"},
		},
	)
	ms, stats := Transform(f, discardLogger())

	if stats.Rows != 2 || stats.Transformed != 2 || stats.BadTime != 0 {
		t.Fatalf("stats %+v", stats)
	}
	want := time.Date(2023, 5, 1, 0, 10, 0, 0, time.UTC)
	if !ms[0].Time.Equal(want) {
		t.Fatalf("row 0 time %v, want %v", ms[0].Time, want)
	}
	if ms[0].TimeUTC5 == nil {
		t.Fatal("row 0 utc-5 time not parsed")
	}
	if ms[0].PL1 == nil || *ms[0].PL1 != 1100 {
		t.Fatalf("row 0 p_l1 %v, want 1100", ms[0].PL1)
	}
	if ms[0].Q1L1 != nil {
		t.Fatal("empty q1_l1 cell should stay nil")
	}
	if ms[1].UL2 != nil {
		t.Fatal("empty u_l2 cell should stay nil")
	}
	if ms[1].Q1L1 == nil || *ms[1].Q1L1 != 0.4 {
		t.Fatalf("row 1 q1_l1 %v, want 0.4", ms[1].Q1L1)
	}
	if ms[0].SnL1 != nil || ms[0].SE != nil {
		t.Fatal("unbound columns should stay nil")
	}
}

func TestTransformDropsRowsWithBadTimestamps(t *testing.T) {
	f := frameFor(
		[]string{"Fecha/Hora", "U L1", "U L2", "P L1", "P L2"},
		[][]string{
			{"01/05/2023 00:10:00", "120,5", "119,8", "1,0", "2,0"},
			{"sin fecha", "120,6", "119,9", "1,1", "2,1"},
			{"", "120,7", "120,0", "1,2", "2,2"},
		},
	)
	ms, stats := Transform(f, discardLogger())

	if stats.BadTime != 2 || stats.Transformed != 1 {
		t.Fatalf("stats %+v", stats)
	}
	if len(ms) != 1 {
		t.Fatalf("measurements %d, want 1", len(ms))
	}
}

func TestTransformCombinesSeparateDateAndTime(t *testing.T) {
	f := frameFor(
		[]string{"Fecha", "Hora", "U L1", "U L2", "P L1", "P L2"},
		[][]string{
			{"01/05/2023", "00:10:00", "120,5", "119,8", "1,0", "2,0"},
		},
	)
	ms, stats := Transform(f, discardLogger())

	if stats.Transformed != 1 {
		t.Fatalf("stats %+v", stats)
	}
	want := time.Date(2023, 5, 1, 0, 10, 0, 0, time.UTC)
	if !ms[0].Time.Equal(want) {
		t.Fatalf("combined time %v, want %v", ms[0].Time, want)
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2023-05-01 00:10:00", time.Date(2023, 5, 1, 0, 10, 0, 0, time.UTC)},
		{"01/05/2023 00:10:00", time.Date(2023, 5, 1, 0, 10, 0, 0, time.UTC)},
		{"2023-05-01T00:10:00", time.Date(2023, 5, 1, 0, 10, 0, 0, time.UTC)},
		{"01.05.2023 00:10:00", time.Date(2023, 5, 1, 0, 10, 0, 0, time.UTC)},
		{"01/05/2023 00:10", time.Date(2023, 5, 1, 0, 10, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got, ok := ParseTimestamp(c.in)
		if !ok {
			t.Errorf("ParseTimestamp(%q) failed", c.in)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if _, ok := ParseTimestamp("no es una fecha"); ok {
		t.Fatal("garbage timestamp accepted")
	}
}
