package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rayscan/internal/config"
	"rayscan/internal/geoip"
	"rayscan/internal/logger"
	"rayscan/internal/metrics"
	"rayscan/internal/model"
	"rayscan/internal/tester"
	"rayscan/internal/xray"
)

// RejectEngine marks candidates whose outbound xray itself refuses to build.
const RejectEngine = "rejected by xray"

// Handle is a running engine process.
type Handle interface {
	AwaitStartup(ctx context.Context, token string, timeout time.Duration) (bool, error)
	Stop() error
}

// Launcher starts an engine on a config file.
type Launcher interface {
	Launch(ctx context.Context, configPath string) (Handle, error)
}

// Prober checks one local inbound port.
type Prober interface {
	Probe(ctx context.Context, port int) (*tester.IPInfo, error)
}

// Observer receives probe progress; used for the progress bar.
type Observer interface {
	ProbesStarted(total int)
	ProbeFinished(alive bool)
}

// XrayLauncher launches the real xray binary.
type XrayLauncher struct {
	Engine *xray.Engine
}

func (l XrayLauncher) Launch(ctx context.Context, configPath string) (Handle, error) {
	proc, err := l.Engine.Start(ctx, configPath)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

type LiveEntry struct {
	Index  int
	Port   int
	Proxy  model.Proxy
	Source model.Proxy
	Origin int
	Info   *tester.IPInfo
	Geo    *geoip.Result
}

type Result struct {
	Total      int
	Normalized int
	Filtered   int
	Live       []LiveEntry
	Dead       int
	Elapsed    time.Duration
	Err        error
}

type Scanner struct {
	cfg      *config.Config
	launcher Launcher
	prober   Prober

	Template xray.Template
	GeoIP    *geoip.Reader
	Metrics  *metrics.Collector
	Observer Observer

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.Config, launcher Launcher, prober Prober) *Scanner {
	return &Scanner{
		cfg:      cfg,
		launcher: launcher,
		prober:   prober,
	}
}

// Scan runs one full pass over proxies. The returned Result is never nil and
// carries the counts even when the scan fails; its Err matches the returned
// error.
func (s *Scanner) Scan(ctx context.Context, proxies []model.Proxy) (*Result, error) {
	start := time.Now()
	res := &Result{Total: len(proxies)}
	defer func() {
		res.Elapsed = time.Since(start)
		res.Dead = res.Filtered - len(res.Live)
		if s.Metrics != nil {
			s.Metrics.RecordScan(res.Total, res.Normalized, res.Filtered, len(res.Live), res.Elapsed)
		}
	}()

	derived := Reshape(proxies)
	res.Normalized = len(derived)

	filter := NewFilter(s.cfg.Filter)
	filter.OnReject = func(_ Derived, reason string) { s.reject(reason) }
	survivors := filter.Apply(derived)
	if s.cfg.Tester.ValidateOutbounds {
		survivors = s.validate(survivors)
	}
	res.Filtered = len(survivors)

	logger.Log.Infof("📋 %d descriptors -> %d variants -> %d candidates", res.Total, res.Normalized, res.Filtered)
	if res.Filtered == 0 {
		logger.Log.Warn("No candidates survived filtering, nothing to probe.")
		return res, nil
	}

	candidates, configPath, err := s.prepare(survivors)
	if err != nil {
		return s.fail(res, err)
	}

	proc, err := s.launcher.Launch(ctx, configPath)
	if err != nil {
		return s.fail(res, fmt.Errorf("failed to launch xray: %w", err))
	}
	defer func() {
		if err := proc.Stop(); err != nil {
			logger.Log.Warnf("Failed to stop xray: %v", err)
		}
	}()

	ok, err := proc.AwaitStartup(ctx, s.cfg.Engine.StartupToken, s.cfg.Engine.StartupTimeout)
	if !ok {
		if err == nil {
			err = xray.ErrStartupTimeout
		}
		return s.fail(res, err)
	}
	logger.Log.Infof("🚀 xray serving %d candidates on ports %d-%d", len(candidates), s.cfg.Tester.BasePort, s.cfg.Tester.LastPort(len(candidates)))

	if err := s.wait(ctx, s.cfg.Tester.PostStartDelay); err != nil {
		return s.fail(res, err)
	}

	res.Live, err = s.probeAll(ctx, candidates)
	if err != nil {
		return s.fail(res, err)
	}
	return res, nil
}

func (s *Scanner) fail(res *Result, err error) (*Result, error) {
	res.Err = err
	logger.Log.Errorf("❌ Scan aborted: %v", err)
	return res, err
}

func (s *Scanner) reject(reason string) {
	if s.Metrics != nil {
		s.Metrics.RecordRejection(reason)
	}
}

// validate drops candidates whose outbound xray-core would refuse, so one bad
// entry cannot keep the whole engine from starting.
func (s *Scanner) validate(in []Derived) []Derived {
	out := in[:0:0]
	for i := range in {
		ob, err := xray.BuildOutbound(&in[i].Proxy, "validate")
		if err == nil {
			err = xray.ValidateOutbound(ob)
		}
		if err != nil {
			logger.Log.Debugf("Dropping %s: %v", in[i].Proxy.String(), err)
			s.reject(RejectEngine)
			continue
		}
		out = append(out, in[i])
	}
	return out
}

// prepare assigns ports, renders the engine config and writes it.
func (s *Scanner) prepare(survivors []Derived) ([]model.Candidate, string, error) {
	agg := xray.NewAggregate(s.cfg.Tester.BasePort, s.cfg.Tester.InboundProtocol)
	candidates := make([]model.Candidate, 0, len(survivors))

	for i := range survivors {
		port, err := agg.Add(&survivors[i].Proxy)
		if err != nil {
			return nil, "", fmt.Errorf("failed to assemble xray config: %w", err)
		}
		candidates = append(candidates, model.Candidate{
			Index:  i,
			Port:   port,
			Proxy:  survivors[i].Proxy,
			Source: survivors[i].Source,
			Origin: survivors[i].Origin,
		})
	}

	if busy := xray.BusyPorts(s.cfg.Tester.BasePort, agg.Len()); len(busy) > 0 {
		logger.Log.Warnf("⚠️ %d inbound ports already in use, those candidates will read as dead: %v", len(busy), busy)
	}

	tmpl := s.Template
	if tmpl == nil {
		var err error
		if tmpl, err = xray.LoadTemplate(s.cfg.Engine.Template); err != nil {
			return nil, "", err
		}
	}
	data, err := tmpl.Render(agg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to render xray config: %w", err)
	}
	path, err := xray.WriteConfig(s.cfg.Engine.WorkDir, data)
	if err != nil {
		return nil, "", err
	}
	logger.Log.Debugf("xray config written to %s", path)
	return candidates, path, nil
}

func (s *Scanner) probeAll(ctx context.Context, candidates []model.Candidate) ([]LiveEntry, error) {
	if s.Observer != nil {
		s.Observer.ProbesStarted(len(candidates))
	}

	var (
		mu   sync.Mutex
		live = make(map[int]LiveEntry)
	)

	batcher := &tester.Batcher{
		Size:  s.cfg.Tester.BatchSize,
		Delay: s.cfg.Tester.BatchDelay,
		Sleep: s.sleep,
	}
	err := batcher.Run(ctx, len(candidates), func(ctx context.Context, i int) error {
		c := candidates[i]

		pctx, cancel := context.WithTimeout(ctx, s.cfg.Tester.ProbeTimeout)
		info, err := s.prober.Probe(pctx, c.Port)
		cancel()

		if err != nil {
			// a cancelled scan is not a dead candidate
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.Debugf("Dead %s on :%d: %v", c.Proxy.String(), c.Port, err)
			if s.Observer != nil {
				s.Observer.ProbeFinished(false)
			}
			return nil
		}

		entry := LiveEntry{Index: c.Index, Port: c.Port, Proxy: c.Proxy, Source: c.Source, Origin: c.Origin, Info: info}
		if s.GeoIP != nil {
			if geo, err := s.GeoIP.Lookup(info.IP); err == nil {
				entry.Geo = geo
			}
		}
		logger.Log.Debugf("Live %s via %s", c.Proxy.String(), info.IP)

		mu.Lock()
		live[c.Index] = entry
		mu.Unlock()

		if s.Observer != nil {
			s.Observer.ProbeFinished(true)
		}
		return nil
	})

	out := make([]LiveEntry, 0, len(live))
	for _, e := range live {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, err
}

func (s *Scanner) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if s.sleep != nil {
		return s.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
