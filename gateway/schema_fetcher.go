package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// RetryOption defines the retry configuration for schema fetching.
type RetryOption struct {
	Attempts int           `yaml:"attempts" env:"ATTEMPTS" envDefault:"3" validate:"min=0"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT" envDefault:"5s"`
}

// loadSchema returns the composite schema SDL from the configured file or URL.
func loadSchema(ctx context.Context, opt SchemaOption, httpClient *http.Client) ([]byte, error) {
	if opt.URL != "" {
		return fetchSchema(ctx, opt.URL, httpClient, opt.Retry)
	}

	src, err := os.ReadFile(opt.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read composite schema: %w", err)
	}
	return src, nil
}

// fetchSchema downloads the composite schema SDL from url. It retries up to attempts times,
// each with a per-attempt timeout.
func fetchSchema(ctx context.Context, url string, httpClient *http.Client, retry RetryOption) ([]byte, error) {
	attempts := retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		sdl, err := doFetchSchema(ctx, url, httpClient, retry.Timeout)
		if err == nil {
			return sdl, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("failed to fetch composite schema from %s after %d attempt(s): %w", url, attempts, lastErr)
}

// doFetchSchema performs a single fetch attempt with the given timeout.
func doFetchSchema(ctx context.Context, url string, httpClient *http.Client, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/graphql, text/plain")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	sdl, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema response: %w", err)
	}
	if len(sdl) == 0 {
		return nil, fmt.Errorf("empty schema returned from %s", url)
	}
	return sdl, nil
}
