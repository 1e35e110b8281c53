package http

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"rayscan/internal/collectors"
	"rayscan/internal/logger"
)

const (
	maxDocument = 32 << 20

	// Subscription servers pick the response format from the user agent;
	// this one gets the proxies YAML document instead of share links.
	userAgent = "clash.meta"
)

type URLCollector struct{}

// Collect downloads config["url"], optionally through config["proxy_url"].
func (c *URLCollector) Collect(config map[string]interface{}) ([]byte, error) {
	targetURL, _ := config["url"].(string)
	if targetURL == "" {
		return nil, fmt.Errorf("missing 'url' in collector config")
	}

	client := &http.Client{Timeout: 120 * time.Second}
	if proxyStr, _ := config["proxy_url"].(string); proxyStr != "" {
		pURL, err := url.Parse(proxyStr)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy_url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(pURL)}
		logger.Log.Debugf("HTTP Collector using proxy: %s", proxyStr)
	}

	req, err := http.NewRequest(http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	logger.Log.Debugf("Fetching URL: %s", targetURL)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocument))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

func init() {
	collectors.Register("http", func() collectors.Collector {
		return &URLCollector{}
	})
}
