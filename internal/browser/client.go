package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	// DefaultUserAgent is sent by the headless browser.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	loginPath = "/user/login"

	emailSelector    = `input[type='email'], input[name='user[email]'], input[name='email'], input#user_email`
	passwordSelector = `input[type='password']`
	submitSelector   = `button[type='submit'], input[type='submit']`
)

// Options configures the headless browser.
type Options struct {
	Headless  bool
	Incognito bool
	UserAgent string
	ExecPath  string

	// ActionTimeout bounds every single call on the page.
	ActionTimeout time.Duration
	// NavigateTimeout bounds Navigate, which waits for the document body.
	NavigateTimeout time.Duration

	BaseURL  string
	Email    string
	Password string

	Logger *zap.Logger
}

// Client is a Page backed by one chromedp tab.
type Client struct {
	opts   Options
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New starts a browser and opens a tab.
func New(opts Options) (*Client, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 15 * time.Second
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 45 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("lang", "es-ES"),
		chromedp.WindowSize(1600, 1000),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.Incognito {
		allocOpts = append(allocOpts, chromedp.Flag("incognito", true))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// First Run launches the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Info("✓ Browser started", zap.Bool("headless", opts.Headless))

	return &Client{
		opts:          opts,
		logger:        logger,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close shuts the browser down.
func (c *Client) Close() {
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (c *Client) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if c.browserCtx.Err() != nil {
		return ErrSessionLost
	}

	runCtx, cancel := context.WithTimeout(c.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if c.browserCtx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	err := c.run(ctx, c.opts.NavigateTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, c.opts.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (c *Client) Count(ctx context.Context, selector string) (int, error) {
	var n int
	if err := c.ExecuteScript(ctx, countScript, &n, selector); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Client) Click(ctx context.Context, selector string) error {
	var clicked bool
	if err := c.ExecuteScript(ctx, clickScript, &clicked, selector); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("click %s: %w", selector, ErrNotFound)
	}
	return nil
}

func (c *Client) ExecuteScript(ctx context.Context, s Script, out any, args ...any) error {
	expr, err := WrapScript(s.Source, args)
	if err != nil {
		return fmt.Errorf("script %s: %w", s.Name, err)
	}

	var raw []byte
	if err := c.run(ctx, c.opts.ActionTimeout, chromedp.Evaluate(expr, &raw)); err != nil {
		return fmt.Errorf("script %s: %w", s.Name, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("script %s: decode result: %w", s.Name, err)
	}
	return nil
}

func (c *Client) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html *string
	if err := c.ExecuteScript(ctx, outerHTMLScript, &html, selector); err != nil {
		return "", err
	}
	if html == nil {
		return "", fmt.Errorf("outer html %s: %w", selector, ErrNotFound)
	}
	return *html, nil
}

func (c *Client) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := c.ExecuteScript(ctx, pageSourceScript, &html); err != nil {
		return "", err
	}
	return html, nil
}

// Login submits the sign-in form and waits until the browser leaves the
// login page.
func (c *Client) Login(ctx context.Context) error {
	if c.opts.Email == "" || c.opts.Password == "" {
		return errors.New("login credentials not configured")
	}

	loginURL := strings.TrimRight(c.opts.BaseURL, "/") + loginPath
	if err := c.Navigate(ctx, loginURL); err != nil {
		return err
	}

	err := c.run(ctx, c.opts.NavigateTimeout,
		chromedp.WaitVisible(emailSelector, chromedp.ByQuery),
		chromedp.SendKeys(emailSelector, c.opts.Email, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, c.opts.Password, chromedp.ByQuery),
		chromedp.Click(submitSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill login form: %w", err)
	}

	err = Poll(ctx, c.opts.NavigateTimeout, 500*time.Millisecond, func(ctx context.Context) (bool, error) {
		loc, err := c.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		return !strings.Contains(loc, loginPath), nil
	})
	if err != nil {
		return fmt.Errorf("login did not complete: %w", err)
	}

	c.logger.Info("✓ Logged in", zap.String("base_url", c.opts.BaseURL))
	return nil
}
