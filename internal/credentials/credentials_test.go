package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func withEnv(p *EnvProvider, env map[string]string) *EnvProvider {
	p.lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return p
}

func TestActiveSessionNoneConfigured(t *testing.T) {
	t.Parallel()

	p := withEnv(NewEnvProvider(Options{}), nil)
	sess, err := p.ActiveSession(context.Background())
	if err != nil || sess != nil {
		t.Fatalf("ActiveSession() = %+v, %v, want nil, nil", sess, err)
	}
}

func TestActiveSessionFromEnv(t *testing.T) {
	t.Parallel()

	p := withEnv(NewEnvProvider(Options{CookieDomain: "splunk.local"}), map[string]string{
		DefaultUsernameEnv: "viewer",
		DefaultPasswordEnv: "s3cret",
		DefaultCookiesEnv:  "session=abc; csrf=xyz",
	})
	sess, err := p.ActiveSession(context.Background())
	if err != nil {
		t.Fatalf("ActiveSession() error = %v", err)
	}
	if !sess.CanLogin() || len(sess.Cookies) != 2 || sess.Cookies[1].Name != "csrf" || sess.Cookies[0].Domain != "splunk.local" {
		t.Fatalf("session = %+v", sess)
	}
}

func TestActiveSessionIncomplete(t *testing.T) {
	t.Parallel()

	p := withEnv(NewEnvProvider(Options{}), map[string]string{DefaultUsernameEnv: "viewer"})
	if _, err := p.ActiveSession(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("ActiveSession() error = %v, want ErrIncomplete", err)
	}
}

func TestActiveSessionEnvFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("APP_USER=file-user\nAPP_PASS=file-pass\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := withEnv(NewEnvProvider(Options{UsernameEnv: "APP_USER", PasswordEnv: "APP_PASS", EnvFile: path}),
		map[string]string{"APP_USER": "env-user"})

	sess, err := p.ActiveSession(context.Background())
	if err != nil {
		t.Fatalf("ActiveSession() error = %v", err)
	}
	if sess.Username != "env-user" || sess.Password != "file-pass" {
		t.Fatalf("session = %+v, want env username and file password", sess)
	}

	missing := withEnv(NewEnvProvider(Options{EnvFile: filepath.Join(t.TempDir(), "nope")}), nil)
	if sess, err := missing.ActiveSession(context.Background()); err != nil || sess != nil {
		t.Fatalf("missing env file: %+v, %v", sess, err)
	}
}

func TestParseCookies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"a=1", 1, false},
		{" a=1 ;; b = 2; ", 2, false},
		{"token=x=y", 1, false},
		{"novalue", 0, true},
		{"=1", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCookies(tt.in, "")
		if (err != nil) != tt.wantErr || len(got) != tt.want {
			t.Fatalf("ParseCookies(%q) = %v, %v", tt.in, got, err)
		}
	}
}
