package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

const (
	emailSelector    = `input[type="email"], input[name="email"]`
	passwordSelector = `input[type="password"]`
	submitSelector   = `button[type="submit"]`

	tabSelector     = ".sf-unit-tab.sequence-tab-view-navigation__tab"
	currentTabClass = "sf-unit-tab--current"
)

// Login opens url and signs in when the page shows a login form. A page
// where the form does not appear within the login field timeout is treated
// as an existing session.
func (s *Session) Login(ctx context.Context, url string, creds capture.Credentials) error {
	s.log.Log(capture.LogInfo, "loading login page")
	if err := s.run(ctx, s.opts.NavTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}

	err := s.run(ctx, s.opts.LoginFieldTimeout, chromedp.WaitVisible(emailSelector, chromedp.ByQuery))
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			s.log.Log(capture.LogWarn, "login fields not found, assuming an authenticated session")
			return nil
		}
		return fmt.Errorf("waiting for login form: %w", err)
	}

	if creds.Email == "" || creds.Password == "" {
		return fmt.Errorf("login form present but credentials are missing")
	}

	err = s.run(ctx, s.opts.NavTimeout,
		fill(emailSelector, creds.Email),
		fill(passwordSelector, creds.Password),
		chromedp.Click(submitSelector, chromedp.ByQuery),
		chromedp.WaitNotPresent(passwordSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("submitting login form: %w", err)
	}
	s.log.Log(capture.LogInfo, "signed in")
	return nil
}

// ActivateTab clicks the index-th unit tab unless it is already current and
// waits for the new content to load.
func (s *Session) ActivateTab(ctx context.Context, index int) error {
	var tabs []*cdp.Node
	if err := s.run(ctx, s.opts.TabTimeout, chromedp.Nodes(tabSelector, &tabs, chromedp.ByQueryAll)); err != nil {
		return fmt.Errorf("finding unit tabs: %w", err)
	}
	if index < 0 || index >= len(tabs) {
		return fmt.Errorf("unit tab %d out of range (found %d)", index+1, len(tabs))
	}
	tab := tabs[index]
	if hasClass(tab.AttributeValue("class"), currentTabClass) {
		s.log.Log(capture.LogDebug, fmt.Sprintf("unit tab %d already active", index+1))
		return nil
	}

	s.log.Log(capture.LogInfo, fmt.Sprintf("activating unit tab %d", index+1))
	if err := s.run(ctx, s.opts.TabTimeout,
		chromedp.MouseClickNode(tab),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("activating unit tab %d: %w", index+1, err)
	}
	return capture.Sleep(ctx, s.opts.TabSettle)
}

// fill clears the field and types value into it, so the page sees the same
// key, input and change events a user would produce.
func fill(selector, value string) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	}
}

func hasClass(classAttr, class string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == class {
			return true
		}
	}
	return false
}
