// Package render turns a dashboard URL into a full-page PNG.
package render

import (
	"context"
	"errors"
)

var (
	// ErrTimeout marks a render that ran out of time.
	ErrTimeout = errors.New("render: timed out")
	// ErrLoginFailed marks a render that never left the login page.
	ErrLoginFailed = errors.New("render: login failed")
	ErrEmptyImage  = errors.New("render: empty screenshot")
)

// Cookie is a browser cookie injected before navigation.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty"`
}

// Session is the opaque authentication handed to the renderer. It is never logged.
type Session struct {
	Username string
	Password string
	Cookies  []Cookie
}

// CanLogin reports whether the session carries form credentials.
func (s *Session) CanLogin() bool {
	return s != nil && s.Username != "" && s.Password != ""
}

// Renderer produces a PNG of url. A nil session renders anonymously.
//
// Implementations must honor ctx cancellation and report an expired deadline
// as ErrTimeout.
type Renderer interface {
	Render(ctx context.Context, url string, sess *Session, tr TimeRange) ([]byte, error)
}

// Func adapts a function to Renderer.
type Func func(ctx context.Context, url string, sess *Session, tr TimeRange) ([]byte, error)

func (f Func) Render(ctx context.Context, url string, sess *Session, tr TimeRange) ([]byte, error) {
	return f(ctx, url, sess, tr)
}
