// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tomtom215/curator/internal/validation"
)

// Validate runs the struct tag rules and then the cross-field checks.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateServers(); err != nil {
		return err
	}
	return c.validateSecurity()
}

func (c *Config) validateDurations() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"server.timeout", c.Server.Timeout},
		{"queue.poll_interval", c.Queue.PollInterval},
		{"scheduler.sweep_interval", c.Scheduler.SweepInterval},
		{"jobs.library_sync_interval", c.Jobs.LibrarySyncInterval},
		{"jobs.enrich_recovery_interval", c.Jobs.EnrichRecoveryInterval},
	}
	for _, chk := range checks {
		if chk.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", chk.name, chk.d)
		}
	}
	if c.Queue.Retention < 0 {
		return fmt.Errorf("queue.retention must not be negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay (%v) must be >= retry.base_delay (%v)", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	if c.Scheduler.DueTolerance < 0 || c.Scheduler.MinRefreshGap < 0 {
		return fmt.Errorf("scheduler.due_tolerance and scheduler.min_refresh_gap must not be negative")
	}
	return nil
}

func (c *Config) validateProviders() error {
	if err := validateHTTPURL(c.Trakt.BaseURL, "trakt.base_url"); err != nil {
		return err
	}
	if err := validateHTTPURL(c.TMDB.BaseURL, "tmdb.base_url"); err != nil {
		return err
	}
	if c.Trakt.AccessToken != "" && c.Trakt.ClientID == "" {
		return fmt.Errorf("TRAKT_CLIENT_ID is required when TRAKT_ACCESS_TOKEN is set")
	}
	if c.TMDB.ImageBaseURL != "" {
		u, err := url.Parse(c.TMDB.ImageBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("tmdb.image_base_url must be an http(s) URL, got %q", c.TMDB.ImageBaseURL)
		}
	}
	return nil
}

func (c *Config) validateServers() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("servers[%d]: duplicate server id %q", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		if err := validateHTTPURL(s.URL, fmt.Sprintf("servers[%d].url", i)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs <= 0 {
		return fmt.Errorf("security.rate_limit_reqs must be positive when rate limiting is enabled")
	}
	if c.Security.RateLimitWindow < time.Second {
		return fmt.Errorf("security.rate_limit_window must be at least 1s, got %v", c.Security.RateLimitWindow)
	}
	return nil
}

// validateHTTPURL accepts http(s) base URLs with no query string. A path
// prefix is allowed so servers behind a reverse proxy sub-path still work.
func validateHTTPURL(rawURL, field string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", field)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", field, u.RawQuery)
	}
	return nil
}
