package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDecodeYAMLMatchesJSON(t *testing.T) {
	t.Parallel()

	jsonSrc := []byte(`{"scheduler":{"enabled":true,"check_interval":"15s"},"capture":{"concurrency":4,"timeout":"20s"},"catalog":{"dashboards_file":"d.json"}}`)
	yamlSrc := []byte(`
scheduler:
  enabled: true
  check_interval: 15s
capture:
  concurrency: 4
  timeout: 20s
catalog:
  dashboards_file: d.json
`)

	a, err := Decode("cfg.json", jsonSrc)
	if err != nil {
		t.Fatalf("Decode(json) error = %v", err)
	}
	b, err := Decode("cfg.yaml", yamlSrc)
	if err != nil {
		t.Fatalf("Decode(yaml) error = %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("yaml config = %+v, want %+v", b, a)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	if _, err := Decode("cfg.json", []byte(`{"bogus":1}`)); err == nil {
		t.Fatalf("Decode() should reject unknown fields")
	}
	_, err := Decode("cfg.json", []byte(`{} {}`))
	if !errors.Is(err, ErrTrailingData) {
		t.Fatalf("Decode() error = %v, want ErrTrailingData", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, false},
		{"0s", 5 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationOrDefault("x", tt.raw, 5*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	a := &Config{Capture: CaptureConfig{Concurrency: 2}, Notifier: &NotifierConfig{Telegram: TelegramTarget{Token: "a"}}}
	b := &Config{Capture: CaptureConfig{Concurrency: 3}, Notifier: &NotifierConfig{Telegram: TelegramTarget{Token: "b"}}}
	changed, _ := SummarizeChange(a, b)
	want := []string{"capture", "notifier"}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
}

func TestManagerReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"capture":{"concurrency":1}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatalf("reload() published unchanged config")
	}

	write(`{"capture":{"concurrency":2}}`)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Capture.Concurrency > 1 {
			return errors.New("too many")
		}
		return nil
	})
	if m.reload(context.Background()) {
		t.Fatalf("reload() published a rejected config")
	}

	m.SetValidator(nil)
	if !m.reload(context.Background()) {
		t.Fatalf("reload() did not publish a changed config")
	}
	select {
	case cfg := <-ch:
		if cfg.Capture.Concurrency != 2 {
			t.Fatalf("published concurrency = %d, want 2", cfg.Capture.Concurrency)
		}
	default:
		t.Fatalf("subscriber got nothing")
	}
	if m.Get().Capture.Concurrency != 2 {
		t.Fatalf("Get() not committed")
	}
}
