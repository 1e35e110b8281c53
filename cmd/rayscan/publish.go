package main

import (
	"os"

	"rayscan/internal/config"
	"rayscan/internal/engine"
	"rayscan/internal/logger"
	"rayscan/internal/publishers"
)

// liveEntries picks the descriptors to publish. With config.EmitSource each
// input entry appears once, described by its first live variant; with
// config.EmitProbed every variant that answered is published as derived.
func liveEntries(live []engine.LiveEntry, emit string) []publishers.Entry {
	out := make([]publishers.Entry, 0, len(live))
	seen := make(map[int]bool)
	for _, e := range live {
		entry := publishers.Entry{Proxy: e.Proxy}
		if emit != config.EmitProbed {
			if seen[e.Origin] {
				continue
			}
			seen[e.Origin] = true
			entry.Proxy = e.Source
		}
		switch {
		case e.Geo != nil && e.Geo.Country != "" && e.Geo.Country != "XX":
			entry.Country = e.Geo.Country
		case e.Info != nil:
			entry.Country = e.Info.Country
		}
		out = append(out, entry)
	}
	return out
}

// publisherConfig flattens the output section into the map a publisher reads.
func publisherConfig(name string, out config.OutputConfig) map[string]interface{} {
	m := map[string]interface{}{
		"annotate": out.Annotate,
	}
	switch name {
	case "file":
		m["dir"] = out.Dir
	case "github":
		gh := out.GitHub
		token := gh.Token
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		m["token"] = token
		m["owner"] = gh.Owner
		m["repo"] = gh.Repo
		m["path"] = gh.Path
		m["branch"] = gh.Branch
		m["message"] = gh.Message
		m["api_url"] = gh.APIURL
		m["timeout"] = gh.Timeout
		m["retries"] = gh.Retries
	}
	return m
}

func publish(entries []publishers.Entry, out config.OutputConfig) error {
	var firstErr error
	for _, name := range out.Publishers {
		pub, err := publishers.Get(name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := pub.Publish(entries, publisherConfig(name, out)); err != nil {
			logger.Log.Errorf("Publisher %s failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
