package journal

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/digitserver/internal/dedup"
	"github.com/user/digitserver/internal/ring"
	"github.com/user/digitserver/internal/stats"
)

func newTestWriter(t *testing.T) (*Writer, *ring.Ring, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "numbers.log")
	r := ring.New(64, ring.WaitBlock)
	filter := dedup.New()
	reporter := stats.New(io.Discard, time.Hour, nil)
	log := zerolog.New(io.Discard)

	w, err := Open(path, r, filter, reporter, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, r, path
}

func frameOf(s string) [ring.FrameSize]byte {
	var f [ring.FrameSize]byte
	copy(f[:], s)
	return f
}

func TestRunWritesUniqueValuesOnly(t *testing.T) {
	w, r, path := newTestWriter(t)

	r.Write(frameOf("111111111"))
	r.Write(frameOf("111111111")) // duplicate
	r.Write(frameOf("222222222"))
	r.Stop()

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ring stopped and drained")
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	want := "111111111\n222222222\n"
	if string(contents) != want {
		t.Errorf("journal contents = %q, want %q", contents, want)
	}
}

func TestOpenTruncatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "numbers.log")
	if err := os.WriteFile(path, []byte("stale data that must not survive\n"), 0o644); err != nil {
		t.Fatalf("seeding stale file: %v", err)
	}

	r := ring.New(8, ring.WaitBlock)
	filter := dedup.New()
	reporter := stats.New(io.Discard, time.Hour, nil)
	w, err := Open(path, r, filter, reporter, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	if len(contents) != 0 {
		t.Errorf("journal contents = %q, want empty after truncating open", contents)
	}
}

func TestParseDigitsRejectsNonDigitBytes(t *testing.T) {
	f := frameOf("12345678x")
	if _, ok := parseDigits(&f); ok {
		t.Error("parseDigits accepted a non-digit byte")
	}
}

func TestParseDigitsRoundTrip(t *testing.T) {
	f := frameOf("000000042")
	v, ok := parseDigits(&f)
	if !ok {
		t.Fatal("parseDigits rejected a valid frame")
	}
	if v != 42 {
		t.Errorf("parseDigits = %d, want 42", v)
	}
}
