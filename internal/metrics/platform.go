package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// The container platform publishes compute pool metrics on a fixed
// discovery host inside the service network.
const platformMetricsURL = "http://discover.monitor.%s.snowflakecomputing.internal:9001/metrics"

// PlatformClient reads the metrics endpoint of the compute pool.
type PlatformClient struct {
	url  string
	http *http.Client
}

// NewPlatformClient targets the discovery endpoint for the named compute
// pool.
func NewPlatformClient(computePool string) *PlatformClient {
	return NewPlatformClientURL(fmt.Sprintf(platformMetricsURL, computePool))
}

// NewPlatformClientURL targets url directly, for local runs.
func NewPlatformClientURL(url string) *PlatformClient {
	return &PlatformClient{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchMetrics returns the exposition text of the platform endpoint, one
// line per entry.
func (c *PlatformClient) FetchMetrics(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch platform metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch platform metrics: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch platform metrics: %w", err)
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
