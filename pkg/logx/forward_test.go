package logx

import (
	"bytes"
	"go/format"
	"os"
	"strings"
	"testing"
)

func TestFormatForward(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"warn","time":"x","message":"batch failed","job":"nightly","comp":"jobs"}` + "\n")
	got := formatForward(line)
	want := "[WARN] batch failed\n- comp=jobs\n- job=nightly"
	if got != want {
		t.Fatalf("formatForward() = %q, want %q", got, want)
	}
}

func TestFormatForwardNonJSON(t *testing.T) {
	t.Parallel()

	got := formatForward([]byte("  plain text  "))
	if got != "plain text" {
		t.Fatalf("formatForward() = %q, want %q", got, "plain text")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 50)
	if got := truncate(long, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate() = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate() = %q, want short", got)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero Logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatalf("With() should carry fields")
	}
}

func TestFieldHelpersAreFormatted(t *testing.T) {
	t.Parallel()

	src, err := os.ReadFile("logger.go")
	if err != nil {
		t.Fatalf("read logger.go: %v", err)
	}
	got, err := format.Source(src)
	if err != nil {
		t.Fatalf("format.Source() error = %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("logger.go is not gofmt-formatted")
	}
}
