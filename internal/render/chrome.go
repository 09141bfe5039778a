package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"dashcap/pkg/logx"
)

// ChromeOptions configures ChromeRenderer.
type ChromeOptions struct {
	ExecPath  string
	Headless  bool
	NoSandbox bool
	UserAgent string

	Width  int
	Height int

	SettleDelay     time.Duration
	ReadySelector   string
	TimeParamPrefix string

	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	LoginURLMarker   string
	LoginWait        time.Duration

	CookieDomain string
	CookiePath   string
}

func (o ChromeOptions) withDefaults() ChromeOptions {
	if o.Width <= 0 {
		o.Width = 1920
	}
	if o.Height <= 0 {
		o.Height = 1080
	}
	if o.UsernameSelector == "" {
		o.UsernameSelector = `input[name="username"]`
	}
	if o.PasswordSelector == "" {
		o.PasswordSelector = `input[name="password"]`
	}
	if o.SubmitSelector == "" {
		o.SubmitSelector = `input[type="submit"], button[type="submit"]`
	}
	if o.LoginURLMarker == "" {
		o.LoginURLMarker = "account/login"
	}
	if o.LoginWait <= 0 {
		o.LoginWait = 15 * time.Second
	}
	if o.CookiePath == "" {
		o.CookiePath = "/"
	}
	return o
}

// ChromeRenderer renders pages in one shared headless Chrome, one tab per call.
type ChromeRenderer struct {
	opts ChromeOptions
	log  logx.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewChrome(opts ChromeOptions, log logx.Logger) *ChromeRenderer {
	return &ChromeRenderer{opts: opts.withDefaults(), log: log}
}

// browser returns the shared browser context, launching Chrome on first use.
func (r *ChromeRenderer) browser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCtx != nil && r.browserCtx.Err() == nil {
		return r.browserCtx, nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.opts.Headless),
		chromedp.Flag("no-sandbox", r.opts.NoSandbox),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(r.opts.Width, r.opts.Height),
	)
	if r.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.opts.ExecPath))
	}
	if r.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(r.opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// the first Run launches the process
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("render: start browser: %w", err)
	}
	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.log.Info("browser started", logx.Bool("headless", r.opts.Headless), logx.Int("width", r.opts.Width), logx.Int("height", r.opts.Height))
	return browserCtx, nil
}

// Close shuts the browser down. A later Render relaunches it.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCancel != nil {
		r.browserCancel()
		r.allocCancel()
	}
	r.browserCtx, r.browserCancel, r.allocCancel = nil, nil, nil
	return nil
}

func (r *ChromeRenderer) Render(ctx context.Context, rawURL string, sess *Session, tr TimeRange) ([]byte, error) {
	target, err := ApplyTimeRange(rawURL, r.opts.TimeParamPrefix, tr)
	if err != nil {
		return nil, err
	}
	browserCtx, err := r.browser()
	if err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	// the tab lives under the browser context, so tie it to the caller's deadline
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var shot []byte
	err = chromedp.Run(tabCtx,
		network.Enable(),
		r.injectCookies(sess, target),
		chromedp.EmulateViewport(int64(r.opts.Width), int64(r.opts.Height)),
		chromedp.Navigate(target),
		r.login(sess),
		r.waitReady(),
		chromedp.Sleep(r.opts.SettleDelay),
		chromedp.FullScreenshot(&shot, 100),
	)
	if err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, rawURL)
			}
			return nil, ctx.Err()
		}
		return nil, err
	}
	if len(shot) == 0 {
		return nil, ErrEmptyImage
	}
	return shot, nil
}

func (r *ChromeRenderer) injectCookies(sess *Session, target string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if sess == nil {
			return nil
		}
		domain := r.opts.CookieDomain
		if domain == "" {
			domain = hostOf(target)
		}
		for _, c := range sess.Cookies {
			d, p := c.Domain, c.Path
			if d == "" {
				d = domain
			}
			if p == "" {
				p = r.opts.CookiePath
			}
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(d).
				WithPath(p).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("render: set cookie %q: %w", c.Name, err)
			}
		}
		return nil
	})
}

// login fills the form when the page shows one and the session can log in.
func (r *ChromeRenderer) login(sess *Session) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var present bool
		hasForm := fmt.Sprintf(`document.querySelector(%q) !== null`, r.opts.UsernameSelector)
		if err := chromedp.Evaluate(hasForm, &present).Do(ctx); err != nil {
			return fmt.Errorf("render: detect login form: %w", err)
		}
		if !present {
			return nil
		}
		if !sess.CanLogin() {
			return fmt.Errorf("%w: login form shown but session has no credentials", ErrLoginFailed)
		}
		r.log.Debug("login form detected")

		steps := chromedp.Tasks{
			chromedp.SendKeys(r.opts.UsernameSelector, sess.Username, chromedp.ByQuery),
			chromedp.SendKeys(r.opts.PasswordSelector, sess.Password, chromedp.ByQuery),
			chromedp.Click(r.opts.SubmitSelector, chromedp.ByQuery),
		}
		if err := steps.Do(ctx); err != nil {
			return fmt.Errorf("render: submit login: %w", err)
		}

		deadline := time.Now().Add(r.opts.LoginWait)
		for {
			var loc string
			if err := chromedp.Location(&loc).Do(ctx); err != nil {
				return err
			}
			if !strings.Contains(loc, r.opts.LoginURLMarker) {
				return nil
			}
			if time.Now().After(deadline) {
				return ErrLoginFailed
			}
			if err := chromedp.Sleep(250 * time.Millisecond).Do(ctx); err != nil {
				return err
			}
		}
	})
}

func (r *ChromeRenderer) waitReady() chromedp.Action {
	if r.opts.ReadySelector == "" {
		return chromedp.WaitReady("body", chromedp.ByQuery)
	}
	return chromedp.WaitVisible(r.opts.ReadySelector, chromedp.ByQuery)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
