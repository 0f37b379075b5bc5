package scraper

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the URL is absolute http(s) with a host and the wait is in range.
func (r ScrapeRequest) Validate() error {
	if err := validateURL(r.URL); err != nil {
		return err
	}
	return validateWait(r.WaitToLoad)
}

// Validate checks the query is not blank and the wait is in range.
func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	return validateWait(r.WaitToLoad)
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: url: %w", ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrValidation)
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("%w: url must include a host", ErrValidation)
	}
	return nil
}

func validateWait(wait *int) error {
	if wait == nil {
		return nil
	}
	if *wait < MinWaitSeconds || *wait > MaxWaitSeconds {
		return fmt.Errorf("%w: wait_to_load must be between %d and %d", ErrValidation, MinWaitSeconds, MaxWaitSeconds)
	}
	return nil
}
