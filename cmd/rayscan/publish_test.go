package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"rayscan/internal/config"
	"rayscan/internal/engine"
	"rayscan/internal/geoip"
	"rayscan/internal/model"
	"rayscan/internal/tester"
)

func sampleLive() []engine.LiveEntry {
	return []engine.LiveEntry{
		{
			Proxy:  model.Proxy{Name: "edge_clone", Server: "front.example.com"},
			Source: model.Proxy{Name: "edge", Server: "104.16.1.1"},
			Info:   &tester.IPInfo{IP: "1.2.3.4", Country: "NL"},
			Geo:    &geoip.Result{ISP: "Example", Country: "DE"},
		},
		{
			Proxy:  model.Proxy{Name: "b", Server: "b.example.com"},
			Source: model.Proxy{Name: "b", Server: "b.example.com"},
			Origin: 1,
			Info:   &tester.IPInfo{IP: "5.6.7.8", Country: "FR"},
			Geo:    &geoip.Result{ISP: "Unknown", Country: "XX"},
		},
	}
}

func TestLiveEntriesEmit(t *testing.T) {
	probed := liveEntries(sampleLive(), config.EmitProbed)
	if probed[0].Proxy.Server != "front.example.com" {
		t.Errorf("probed emit = %+v", probed[0].Proxy)
	}
	source := liveEntries(sampleLive(), config.EmitSource)
	if source[0].Proxy.Server != "104.16.1.1" || source[0].Proxy.Name != "edge" {
		t.Errorf("source emit = %+v", source[0].Proxy)
	}
}

// liveFromReshape marks every variant of in as live, in scan order.
func liveFromReshape(in []model.Proxy) []engine.LiveEntry {
	var live []engine.LiveEntry
	for i, d := range engine.Reshape(in) {
		live = append(live, engine.LiveEntry{
			Index:  i,
			Proxy:  d.Proxy,
			Source: d.Source,
			Origin: d.Origin,
			Info:   &tester.IPInfo{IP: "1.2.3.4"},
		})
	}
	return live
}

func TestLiveEntriesDefaultPublishesEachInputOnce(t *testing.T) {
	in := []model.Proxy{
		{
			Name:       "edge",
			Type:       model.ProtocolVLESS,
			Server:     "104.16.1.1",
			Port:       "443",
			UUID:       "b831381d-6324-4d53-ad4f-8cda48b30811",
			TLS:        true,
			ServerName: "front.example.com",
			Network:    model.TransportWS,
		},
		{
			Name:     "tj",
			Type:     model.ProtocolTrojan,
			Server:   "t.example.com",
			Port:     "443",
			Password: "pw",
			Network:  model.TransportGRPC,
		},
	}
	live := liveFromReshape(in)
	if len(live) != 4 {
		t.Fatalf("variants = %d, want 4", len(live))
	}

	entries := liveEntries(live, config.Default().Output.Emit)
	if len(entries) != 2 {
		t.Fatalf("published %d entries, want one per input: %+v", len(entries), entries)
	}
	for i, e := range entries {
		if e.Proxy.Name != in[i].Name || e.Proxy.Server != in[i].Server || e.Proxy.ServerName != in[i].ServerName {
			t.Errorf("entry %d = %+v, want input %+v", i, e.Proxy, in[i])
		}
	}

	if probed := liveEntries(live, config.EmitProbed); len(probed) != 4 || probed[1].Proxy.Name != "edge_clone" {
		t.Errorf("probed emit = %+v", probed)
	}
}

func TestLiveEntriesCountry(t *testing.T) {
	entries := liveEntries(sampleLive(), config.EmitProbed)
	if entries[0].Country != "DE" {
		t.Errorf("geoip country should win, got %q", entries[0].Country)
	}
	if entries[1].Country != "FR" {
		t.Errorf("unknown geoip falls back to probe country, got %q", entries[1].Country)
	}
}

func TestPublisherConfigGitHubTokenFallback(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "from-env")
	out := config.Default().Output
	out.GitHub.Owner = "me"

	m := publisherConfig("github", out)
	if m["token"] != "from-env" || m["owner"] != "me" {
		t.Errorf("config = %v", m)
	}
	if m["timeout"] != 30*time.Second {
		t.Errorf("timeout = %v", m["timeout"])
	}

	out.GitHub.Token = "explicit"
	if m := publisherConfig("github", out); m["token"] != "explicit" {
		t.Errorf("explicit token overridden: %v", m["token"])
	}
}

func TestPublishUnknownPublisher(t *testing.T) {
	out := config.Default().Output
	out.Publishers = []string{"carrier-pigeon"}
	if err := publish(nil, out); err == nil {
		t.Fatal("expected error for unknown publisher")
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &engine.Result{
		Total:    3,
		Filtered: 4,
		Live:     sampleLive()[:1],
		Dead:     3,
		Elapsed:  1500 * time.Millisecond,
		Err:      errors.New("boom"),
	})
	out := buf.String()
	for _, want := range []string{"Input proxies:   3", "Live:            1", "Dead:            3", "1.5s", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
