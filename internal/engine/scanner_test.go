package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rayscan/internal/config"
	"rayscan/internal/metrics"
	"rayscan/internal/model"
	"rayscan/internal/tester"
	"rayscan/internal/xray"
)

type fakeHandle struct {
	started bool
	err     error
	stops   int32
}

func (h *fakeHandle) AwaitStartup(ctx context.Context, token string, timeout time.Duration) (bool, error) {
	return h.started, h.err
}

func (h *fakeHandle) Stop() error {
	atomic.AddInt32(&h.stops, 1)
	return nil
}

type fakeLauncher struct {
	handle     *fakeHandle
	err        error
	launches   int
	configPath string
}

func (l *fakeLauncher) Launch(ctx context.Context, configPath string) (Handle, error) {
	l.launches++
	l.configPath = configPath
	if l.err != nil {
		return nil, l.err
	}
	return l.handle, nil
}

type proberFunc func(ctx context.Context, port int) (*tester.IPInfo, error)

func (f proberFunc) Probe(ctx context.Context, port int) (*tester.IPInfo, error) {
	return f(ctx, port)
}

func scanConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.WorkDir = t.TempDir()
	cfg.Tester.BasePort = 31081
	cfg.Tester.PostStartDelay = 0
	cfg.Tester.BatchDelay = 0
	cfg.Tester.ProbeTimeout = 100 * time.Millisecond
	cfg.Tester.ValidateOutbounds = false
	return cfg
}

// plainWS builds n vmess ws descriptors without TLS or Host, so reshape's two
// variants collapse to one candidate each after dedupe.
func plainWS(n int) []model.Proxy {
	out := make([]model.Proxy, n)
	for i := range out {
		out[i] = model.Proxy{
			Name:    fmt.Sprintf("ws%d", i),
			Type:    model.ProtocolVMess,
			Server:  fmt.Sprintf("10.9.0.%d", i+1),
			Port:    "80",
			UUID:    testUUID,
			Network: model.TransportWS,
		}
	}
	return out
}

func TestScanStartupTimeout(t *testing.T) {
	cfg := scanConfig(t)
	handle := &fakeHandle{started: false, err: xray.ErrStartupTimeout}
	launcher := &fakeLauncher{handle: handle}
	var probes int32
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		atomic.AddInt32(&probes, 1)
		return &tester.IPInfo{IP: "1.2.3.4"}, nil
	})

	input := plainWS(3)
	res, err := New(cfg, launcher, prober).Scan(context.Background(), input)
	if !errors.Is(err, xray.ErrStartupTimeout) || !errors.Is(res.Err, xray.ErrStartupTimeout) {
		t.Fatalf("err = %v, res.Err = %v", err, res.Err)
	}
	if len(res.Live) != 0 || res.Total != len(input) {
		t.Errorf("live=%d total=%d", len(res.Live), res.Total)
	}
	if probes != 0 {
		t.Errorf("%d probes issued after failed startup", probes)
	}
	if handle.stops != 1 {
		t.Errorf("engine stopped %d times, want 1", handle.stops)
	}
	if res.Dead != res.Filtered {
		t.Errorf("dead=%d filtered=%d", res.Dead, res.Filtered)
	}
}

func TestScanStartupFalseWithoutError(t *testing.T) {
	cfg := scanConfig(t)
	launcher := &fakeLauncher{handle: &fakeHandle{}}
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		return nil, errors.New("unreachable")
	})

	_, err := New(cfg, launcher, prober).Scan(context.Background(), plainWS(1))
	if !errors.Is(err, xray.ErrStartupTimeout) {
		t.Fatalf("err = %v", err)
	}
}

func TestScanOneLiveTwoTimeouts(t *testing.T) {
	cfg := scanConfig(t)
	handle := &fakeHandle{started: true}
	launcher := &fakeLauncher{handle: handle}
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		if port == cfg.Tester.BasePort {
			return &tester.IPInfo{IP: "1.2.3.4", Country: "NL"}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	mc := metrics.New()

	s := New(cfg, launcher, prober)
	s.Metrics = mc
	res, err := s.Scan(context.Background(), plainWS(3))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if res.Filtered != 3 {
		t.Fatalf("filtered = %d, want 3", res.Filtered)
	}
	if len(res.Live) != 1 || res.Dead != 2 {
		t.Fatalf("live=%d dead=%d", len(res.Live), res.Dead)
	}
	live := res.Live[0]
	if live.Index != 0 || live.Port != cfg.Tester.BasePort || live.Info.IP != "1.2.3.4" {
		t.Errorf("live = %+v", live)
	}
	if live.Source.Name != "ws0" {
		t.Errorf("source = %+v", live.Source)
	}
	if handle.stops != 1 {
		t.Errorf("engine stopped %d times", handle.stops)
	}
	if s := mc.Snapshot(); s.Rejections[RejectDuplicate] != 3 {
		t.Errorf("rejections = %v", s.Rejections)
	}
}

func TestScanWritesMultiplexedConfig(t *testing.T) {
	cfg := scanConfig(t)
	launcher := &fakeLauncher{handle: &fakeHandle{started: true}}
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		return &tester.IPInfo{IP: "1.2.3.4"}, nil
	})

	const k = 5
	if _, err := New(cfg, launcher, prober).Scan(context.Background(), plainWS(k)); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(launcher.configPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	var doc struct {
		Inbounds  []xray.Inbound `json:"inbounds"`
		Outbounds []struct {
			Tag string `json:"tag"`
		} `json:"outbounds"`
		Routing struct {
			Rules []xray.Rule `json:"rules"`
		} `json:"routing"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Inbounds) != k || len(doc.Outbounds) != k || len(doc.Routing.Rules) != k {
		t.Fatalf("in=%d out=%d rules=%d", len(doc.Inbounds), len(doc.Outbounds), len(doc.Routing.Rules))
	}

	outTags := map[string]bool{}
	for _, o := range doc.Outbounds {
		outTags[o.Tag] = true
	}
	if len(outTags) != k {
		t.Errorf("outbound tags not distinct: %v", outTags)
	}
	for i, in := range doc.Inbounds {
		if in.Port != cfg.Tester.BasePort+i {
			t.Errorf("inbound %d port = %d", i, in.Port)
		}
	}
	for _, r := range doc.Routing.Rules {
		if len(r.InboundTag) != 1 || !outTags[r.OutboundTag] {
			t.Errorf("rule = %+v", r)
		}
	}
}

func TestScanNothingToProbe(t *testing.T) {
	cfg := scanConfig(t)
	launcher := &fakeLauncher{handle: &fakeHandle{started: true}}
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		t.Error("no probe expected")
		return nil, nil
	})

	raw := []model.Proxy{{Name: "r", Type: model.ProtocolVMess, Server: "a.example.com", Port: "443", UUID: testUUID}}
	res, err := New(cfg, launcher, prober).Scan(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Filtered != 0 || len(res.Live) != 0 {
		t.Errorf("res = %+v", res)
	}
	if launcher.launches != 0 {
		t.Error("engine launched with no candidates")
	}
}

func TestScanLaunchError(t *testing.T) {
	cfg := scanConfig(t)
	launcher := &fakeLauncher{err: xray.ErrBinaryNotFound}
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		return nil, nil
	})

	res, err := New(cfg, launcher, prober).Scan(context.Background(), plainWS(2))
	if !errors.Is(err, xray.ErrBinaryNotFound) {
		t.Fatalf("err = %v", err)
	}
	if res.Filtered != 2 || res.Dead != 2 || res.Elapsed <= 0 {
		t.Errorf("res = %+v", res)
	}
}

func TestScanBatchesAllCandidates(t *testing.T) {
	cfg := scanConfig(t)
	cfg.Tester.BatchSize = 20
	cfg.Tester.BatchDelay = time.Second

	var (
		mu     sync.Mutex
		ports  = map[int]bool{}
		sleeps int
	)
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		mu.Lock()
		ports[port] = true
		mu.Unlock()
		return &tester.IPInfo{IP: "1.2.3.4"}, nil
	})

	s := New(cfg, &fakeLauncher{handle: &fakeHandle{started: true}}, prober)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	res, err := s.Scan(context.Background(), plainWS(45))
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != 45 || len(res.Live) != 45 {
		t.Errorf("probed %d ports, live %d; want 45", len(ports), len(res.Live))
	}
	if sleeps != 2 {
		t.Errorf("inter-batch sleeps = %d, want 2", sleeps)
	}
	for i, e := range res.Live {
		if e.Index != i {
			t.Fatalf("live not ordered by index at %d: %d", i, e.Index)
		}
	}
}

type countingObserver struct {
	total       int
	alive, dead int32
}

func (o *countingObserver) ProbesStarted(total int) { o.total = total }

func (o *countingObserver) ProbeFinished(alive bool) {
	if alive {
		atomic.AddInt32(&o.alive, 1)
	} else {
		atomic.AddInt32(&o.dead, 1)
	}
}

func TestScanReportsProgress(t *testing.T) {
	cfg := scanConfig(t)
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		if port%2 == 0 {
			return nil, errors.New("connection refused")
		}
		return &tester.IPInfo{IP: "1.2.3.4"}, nil
	})
	obs := &countingObserver{}
	s := New(cfg, &fakeLauncher{handle: &fakeHandle{started: true}}, prober)
	s.Observer = obs

	res, err := s.Scan(context.Background(), plainWS(4))
	if err != nil {
		t.Fatal(err)
	}
	if obs.total != 4 || int(obs.alive) != len(res.Live) || int(obs.alive+obs.dead) != 4 {
		t.Errorf("observer = %+v, live = %d", obs, len(res.Live))
	}
}

func TestScanDropsOutboundsXrayRefuses(t *testing.T) {
	cfg := scanConfig(t)
	cfg.Tester.ValidateOutbounds = true

	input := plainWS(3)
	input[1].Type = model.ProtocolVLESS
	input[1].Flow = "xtls-rprx-bogus"

	var mu sync.Mutex
	probed := map[int]bool{}
	prober := proberFunc(func(ctx context.Context, port int) (*tester.IPInfo, error) {
		mu.Lock()
		probed[port] = true
		mu.Unlock()
		return &tester.IPInfo{IP: "1.2.3.4"}, nil
	})
	launcher := &fakeLauncher{handle: &fakeHandle{started: true}}
	mc := metrics.New()

	s := New(cfg, launcher, prober)
	s.Metrics = mc
	res, err := s.Scan(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}

	if res.Filtered != 2 || len(res.Live) != 2 {
		t.Fatalf("filtered=%d live=%d, want 2 and 2", res.Filtered, len(res.Live))
	}
	if got := mc.Snapshot().Rejections[RejectEngine]; got != 1 {
		t.Errorf("engine rejections = %d, want 1", got)
	}
	for _, e := range res.Live {
		if e.Proxy.Server == input[1].Server {
			t.Errorf("refused candidate was probed: %+v", e.Proxy)
		}
	}
	if res.Live[1].Port != cfg.Tester.BasePort+1 || res.Live[1].Proxy.Server != input[2].Server {
		t.Errorf("survivor after the refused one = %+v", res.Live[1])
	}

	data, err := os.ReadFile(launcher.configPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Inbounds []xray.Inbound `json:"inbounds"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Inbounds) != 2 {
		t.Fatalf("inbounds = %d, want 2", len(doc.Inbounds))
	}
	for i, in := range doc.Inbounds {
		if in.Port != cfg.Tester.BasePort+i {
			t.Errorf("inbound %d port = %d, want %d", i, in.Port, cfg.Tester.BasePort+i)
		}
	}
	if len(probed) != 2 || !probed[cfg.Tester.BasePort] || !probed[cfg.Tester.BasePort+1] {
		t.Errorf("probed ports = %v", probed)
	}
}

func TestScanCancelledMidBatch(t *testing.T) {
	cfg := scanConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober := proberFunc(func(pctx context.Context, port int) (*tester.IPInfo, error) {
		if port == cfg.Tester.BasePort {
			cancel()
		}
		<-pctx.Done()
		return nil, pctx.Err()
	})
	obs := &countingObserver{}
	handle := &fakeHandle{started: true}
	s := New(cfg, &fakeLauncher{handle: handle}, prober)
	s.Observer = obs

	res, err := s.Scan(ctx, plainWS(3))
	if !errors.Is(err, context.Canceled) || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if obs.dead != 0 {
		t.Errorf("%d cancelled probes counted as dead", obs.dead)
	}
	if handle.stops != 1 {
		t.Errorf("engine stopped %d times", handle.stops)
	}
}
