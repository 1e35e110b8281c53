package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rayscan/internal/collectors"
	"rayscan/internal/config"
	"rayscan/internal/engine"
	"rayscan/internal/geoip"
	"rayscan/internal/logger"
	"rayscan/internal/metrics"
	"rayscan/internal/model"
	"rayscan/internal/tester"
	"rayscan/internal/xray"
)

// summaryOut receives the scan summary.
var summaryOut io.Writer = os.Stdout

func runScan(parent context.Context, source string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	total := 0
	// fatal setup errors still end with a (zero-live) summary
	abort := func(err error) error {
		printSummary(summaryOut, &engine.Result{Total: total, Elapsed: time.Since(start), Err: err})
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return abort(fmt.Errorf("error loading config: %w", err))
	}

	proxies, err := readSource(source, cfg.Input)
	if err != nil {
		return abort(err)
	}
	total = len(proxies)

	binary, err := xray.LocateBinary(cfg.Engine.Binary)
	if err != nil {
		return abort(err)
	}

	geo, err := geoip.Open(cfg.GeoIP.ASNPath, cfg.GeoIP.CountryPath)
	if err != nil {
		return abort(fmt.Errorf("failed to init GeoIP: %w", err))
	}
	defer geo.Close()

	tmpl, err := xray.LoadTemplate(cfg.Engine.Template)
	if err != nil {
		return abort(err)
	}

	mc := metrics.New()
	launcher := engine.XrayLauncher{Engine: &xray.Engine{
		Binary:       binary,
		KillTimeout:  cfg.Engine.KillTimeout,
		ReleaseDelay: cfg.Engine.ReleaseDelay,
	}}

	scanner := engine.New(cfg, launcher, tester.New(cfg.Tester, mc))
	scanner.Template = tmpl
	scanner.GeoIP = geo
	scanner.Metrics = mc
	scanner.Observer = &barObserver{}

	res, scanErr := scanner.Scan(ctx, proxies)
	printSummary(summaryOut, res)

	if scanErr == nil {
		if err := publish(liveEntries(res.Live, cfg.Output.Emit), cfg.Output); err != nil {
			scanErr = fmt.Errorf("publishing failed: %w", err)
		}
	}

	if verbose {
		mc.PrintReport(os.Stdout, cfg.Tester.ProbeTimeout, cfg.Tester.BatchSize)
	}
	if cfg.Metrics.Textfile != "" {
		if err := mc.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Log.Warnf("Failed to write metrics textfile: %v", err)
		}
	}
	return scanErr
}

// readSource fetches the input document and parses it, logging the elements
// that had to be skipped.
func readSource(source string, in config.InputConfig) ([]model.Proxy, error) {
	collector, params, err := collectors.ForSource(source)
	if err != nil {
		return nil, err
	}
	if in.ProxyURL != "" {
		params["proxy_url"] = in.ProxyURL
	}

	logger.Log.Infof("📥 Reading %s", source)
	data, err := collector.Collect(params)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	proxies, skipped, err := model.ParseDocument(data)
	for _, s := range skipped {
		logger.Log.Warnf("Skipping proxy #%d: %s", s.Position, s.Reason)
	}
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

func printSummary(out io.Writer, res *engine.Result) {
	if res == nil {
		return
	}
	fmt.Fprintln(out, "\n================ SCAN SUMMARY ================")
	fmt.Fprintf(out, "Input proxies:   %d\n", res.Total)
	fmt.Fprintf(out, "Variants:        %d\n", res.Normalized)
	fmt.Fprintf(out, "Probed:          %d\n", res.Filtered)
	fmt.Fprintf(out, "Live:            %d\n", len(res.Live))
	fmt.Fprintf(out, "Dead:            %d\n", res.Dead)
	fmt.Fprintf(out, "Elapsed:         %s\n", res.Elapsed.Round(time.Millisecond))
	if res.Err != nil {
		fmt.Fprintf(out, "Error:           %v\n", res.Err)
	}
	fmt.Fprintln(out, "==============================================")
}
