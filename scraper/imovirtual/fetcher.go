package imovirtual

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"imovirtual-scraper/config"
	"imovirtual-scraper/models"
	"imovirtual-scraper/utils"
)

const acceptLanguage = "pt-PT,pt;q=0.9,en-US;q=0.8,en;q=0.7"

// PageFetcher retrieves one listing-index page at a time over a shared HTTP
// session. A rate limiter enforces the configured cooldown between
// consecutive requests — a deliberate politeness throttle, applied whether
// or not the previous request succeeded.
type PageFetcher struct {
	cfg     *config.Config
	logger  *utils.Logger
	client  *http.Client
	limiter *rate.Limiter
	retry   *utils.RetryConfig
}

// NewPageFetcher creates a PageFetcher owning its HTTP client. The client is
// the single shared session for the whole run.
func NewPageFetcher(cfg *config.Config, logger *utils.Logger) *PageFetcher {
	return &PageFetcher{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.BaseBackoff,
			Logger:      logger,
		},
	}
}

// Fetch downloads the page at the given index for a search task. Transient
// failures are retried with exponential backoff; once the ceiling is hit a
// *FetchExhaustedError is returned. A 404 response means the source ran out
// of pages and surfaces as ErrEndOfResults.
func (f *PageFetcher) Fetch(ctx context.Context, task models.SearchTask, page int) (string, error) {
	pageURL := buildPageURL(task.URL, f.cfg.PageSize, page)

	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var body string
	endOfResults := false

	err := f.retry.Do(ctx, fmt.Sprintf("fetch-page-%d", page), func() error {
		html, err := f.get(ctx, pageURL)
		if errors.Is(err, ErrEndOfResults) {
			endOfResults = true
			return nil
		}
		if err != nil {
			return err
		}
		body = html
		return nil
	})

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", err
	case err != nil:
		return "", &FetchExhaustedError{Page: page, URL: pageURL, Err: err}
	case endOfResults:
		return "", ErrEndOfResults
	}
	return body, nil
}

func (f *PageFetcher) get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetcher: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Referer", "https://www.imovirtual.com/")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &transientError{msg: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The source answers 404 past the last page.
		return "", ErrEndOfResults
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &transientError{status: resp.StatusCode, msg: "rate limited"}
	case resp.StatusCode != http.StatusOK:
		return "", &transientError{status: resp.StatusCode, msg: pageURL}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientError{msg: fmt.Sprintf("read body: %v", err)}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		// An empty 200 body is how the source sheds load when throttling.
		return "", &transientError{status: resp.StatusCode, msg: "empty response body"}
	}

	f.logger.Debug("[fetcher] GET %s — %d bytes in %v", pageURL, len(data), time.Since(start))
	return string(data), nil
}

// buildPageURL appends the page-size and page-index parameters to a search
// URL, preserving any filter parameters already present.
func buildPageURL(base string, pageSize, page int) string {
	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%slimit=%d&page=%d", base, separator, pageSize, page)
}
