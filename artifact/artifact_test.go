package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func touch(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var planNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func TestPlanExportPathFirstFree(t *testing.T) {
	dir := t.TempDir()
	got := PlanExportPath(dir, "capture", planNow)
	if got != filepath.Join(dir, "capture.csv") {
		t.Fatalf("got %q", got)
	}
}

func TestPlanExportPathNumbersCollisions(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "capture.csv", 10)
	if got := PlanExportPath(dir, "capture", planNow); got != filepath.Join(dir, "1_capture.csv") {
		t.Fatalf("got %q", got)
	}
	touch(t, dir, "1_capture.csv", 10)
	if got := PlanExportPath(dir, "capture", planNow); got != filepath.Join(dir, "2_capture.csv") {
		t.Fatalf("got %q", got)
	}
}

func TestPlanExportPathInjective(t *testing.T) {
	dir := t.TempDir()
	first := PlanExportPath(dir, "capture", planNow)
	touch(t, dir, filepath.Base(first), 10)
	second := PlanExportPath(dir, "capture", planNow)
	if first == second {
		t.Fatalf("planned paths collide: %q", first)
	}
}

func TestPlanExportPathTimestampAfter500(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "capture.csv", 1)
	for n := 1; n <= 500; n++ {
		touch(t, dir, fmt.Sprintf("%d_capture.csv", n), 1)
	}
	got := PlanExportPath(dir, "capture", planNow)
	want := filepath.Join(dir, "20260314_150926_capture.csv")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestVerifyFindsExpectedFile(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "capture.csv", 200)

	res := Verify(context.Background(), path, VerifyOptions{Delay: time.Millisecond, MaxAttempts: 2})
	if !res.Verified || res.Path != path || res.Size != 200 {
		t.Fatalf("res = %+v", res)
	}
}

func TestVerifyRejectsTinyFile(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "capture.csv", 20)

	res := Verify(context.Background(), path, VerifyOptions{Delay: time.Millisecond, MaxAttempts: 2})
	if res.Verified {
		t.Fatalf("20-byte file must not verify: %+v", res)
	}
}

func TestVerifyResolvesVariantName(t *testing.T) {
	dir := t.TempDir()
	variant := touch(t, dir, "(1) capture.csv", 300)

	res := Verify(context.Background(), filepath.Join(dir, "capture.csv"),
		VerifyOptions{Delay: time.Millisecond, MaxAttempts: 2})
	if !res.Verified || res.Path != variant {
		t.Fatalf("res = %+v, want variant %q", res, variant)
	}
}

func TestVerifyIgnoresStaleVariants(t *testing.T) {
	dir := t.TempDir()
	variant := touch(t, dir, "1_capture.csv", 300)
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(variant, old, old); err != nil {
		t.Fatal(err)
	}

	res := Verify(context.Background(), filepath.Join(dir, "capture.csv"),
		VerifyOptions{Delay: time.Millisecond, MaxAttempts: 2})
	if res.Verified {
		t.Fatalf("hour-old variant must not satisfy a fresh export: %+v", res)
	}
}

func TestVerifyWaitsForAppearance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.csv")
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(path, []byte(strings.Repeat("x", 150)), 0o644)
	}()

	res := Verify(context.Background(), path, VerifyOptions{Delay: 10 * time.Millisecond, MaxAttempts: 20})
	if !res.Verified {
		t.Fatalf("file appearing mid-poll must verify: %+v", res)
	}
}
