package tester

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"rayscan/internal/config"
	"rayscan/internal/metrics"
)

// maxBody caps how much of the probe response is read.
const maxBody = 1 << 20

// IPInfo is the exit information the probe endpoint reports.
type IPInfo struct {
	IP       string `json:"ip" yaml:"ip"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	City     string `json:"city,omitempty" yaml:"city,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Country  string `json:"country,omitempty" yaml:"country,omitempty"`
	Org      string `json:"org,omitempty" yaml:"org,omitempty"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

type Tester struct {
	cfg config.TesterConfig
	mc  *metrics.Collector
}

// New returns a tester; mc may be nil.
func New(cfg config.TesterConfig, mc *metrics.Collector) *Tester {
	return &Tester{cfg: cfg, mc: mc}
}

// Probe fetches the probe URL through the local inbound on port and returns
// the reported exit info. Any transport error, non 2xx status or body without
// an ip is a failure.
func (t *Tester) Probe(ctx context.Context, port int) (*IPInfo, error) {
	client, err := t.MakeClient(port, t.cfg.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	defer client.CloseIdleConnections()

	start := time.Now()
	info, err := t.fetch(ctx, client)
	if err != nil {
		if t.mc != nil {
			t.mc.RecordFailure(err)
		}
		return nil, err
	}
	if t.mc != nil {
		t.mc.RecordSuccess(time.Since(start))
	}
	return info, nil
}

func (t *Tester) fetch(ctx context.Context, client *http.Client) (*IPInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.ProbeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("probe failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	var info IPInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("ip info is not json: %w", err)
	}
	if info.IP == "" {
		return nil, fmt.Errorf("ip info has no ip field")
	}
	return &info, nil
}

// MakeClient builds a client that goes through the local inbound on port,
// speaking whichever protocol the inbounds were generated with.
func (t *Tester) MakeClient(port int, totalTimeout time.Duration) (*http.Client, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	base := &net.Dialer{
		Timeout:   totalTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		ResponseHeaderTimeout: totalTimeout,
		DisableKeepAlives:     true,
	}

	switch t.cfg.InboundProtocol {
	case "socks":
		dialer, err := proxy.SOCKS5("tcp", addr, nil, base)
		if err != nil {
			return nil, err
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext
	default:
		proxyURL, err := url.Parse("http://" + addr)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.DialContext = base.DialContext
	}

	return &http.Client{
		Transport: transport,
		Timeout:   totalTimeout,
	}, nil
}
