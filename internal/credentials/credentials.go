// Package credentials supplies the renderer session from the environment.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"dashcap/internal/render"
)

const (
	DefaultUsernameEnv = "DASHCAP_USERNAME"
	DefaultPasswordEnv = "DASHCAP_PASSWORD"
	DefaultCookiesEnv  = "DASHCAP_COOKIES"
)

// ErrIncomplete is returned when only one of username and password is set.
var ErrIncomplete = errors.New("credentials: username and password must both be set")

type Options struct {
	UsernameEnv string
	PasswordEnv string
	CookiesEnv  string
	// EnvFile is re-read on every lookup; process env wins over it.
	EnvFile string
	// CookieDomain applies to cookies that do not carry one.
	CookieDomain string
}

// EnvProvider reads the current session from environment variables.
type EnvProvider struct {
	opts   Options
	lookup func(string) (string, bool)
}

func NewEnvProvider(opts Options) *EnvProvider {
	if opts.UsernameEnv == "" {
		opts.UsernameEnv = DefaultUsernameEnv
	}
	if opts.PasswordEnv == "" {
		opts.PasswordEnv = DefaultPasswordEnv
	}
	if opts.CookiesEnv == "" {
		opts.CookiesEnv = DefaultCookiesEnv
	}
	return &EnvProvider{opts: opts, lookup: os.LookupEnv}
}

// ActiveSession returns nil, nil when no credentials are configured.
func (p *EnvProvider) ActiveSession(ctx context.Context) (*render.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := p.readEnvFile()
	if err != nil {
		return nil, err
	}
	get := func(key string) string {
		if v, ok := p.lookup(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(file[key])
	}

	user, pass := get(p.opts.UsernameEnv), get(p.opts.PasswordEnv)
	cookies, err := ParseCookies(get(p.opts.CookiesEnv), p.opts.CookieDomain)
	if err != nil {
		return nil, err
	}
	if (user == "") != (pass == "") {
		return nil, ErrIncomplete
	}
	if user == "" && len(cookies) == 0 {
		return nil, nil
	}
	return &render.Session{Username: user, Password: pass, Cookies: cookies}, nil
}

func (p *EnvProvider) readEnvFile() (map[string]string, error) {
	if p.opts.EnvFile == "" {
		return nil, nil
	}
	m, err := godotenv.Read(p.opts.EnvFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", p.opts.EnvFile, err)
	}
	return m, nil
}

// ParseCookies parses a Cookie header style string "a=1; b=2".
func ParseCookies(raw, domain string) ([]render.Cookie, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []render.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("credentials: malformed cookie %q", part)
		}
		out = append(out, render.Cookie{Name: name, Value: strings.TrimSpace(value), Domain: domain})
	}
	return out, nil
}
