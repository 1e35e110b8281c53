package xray

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"rayscan/internal/model"
)

const (
	ConfigFileName = "config.json"
	listenAddress  = "127.0.0.1"
)

var ErrDuplicateTag = errors.New("duplicate tag")

// defaultTemplate is used when no template file is configured.
const defaultTemplate = `{"log": {"loglevel": "warning"}}`

type Inbound struct {
	Tag      string                 `json:"tag"`
	Listen   string                 `json:"listen"`
	Port     int                    `json:"port"`
	Protocol string                 `json:"protocol"`
	Settings map[string]interface{} `json:"settings"`
	Sniffing Sniffing               `json:"sniffing"`
	Allocate Allocate               `json:"allocate"`
}

type Sniffing struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
}

type Allocate struct {
	Strategy    string `json:"strategy"`
	Refresh     int    `json:"refresh"`
	Concurrency int    `json:"concurrency"`
}

type Rule struct {
	DomainMatcher string   `json:"domainMatcher"`
	Type          string   `json:"type"`
	InboundTag    []string `json:"inboundTag"`
	OutboundTag   string   `json:"outboundTag"`
}

// Aggregate collects the inbounds, outbounds and routing rules of one scan.
// Entry i always pairs in_i on BasePort+i with out_i.
type Aggregate struct {
	BasePort        int
	InboundProtocol string

	Inbounds  []Inbound
	Outbounds []Outbound
	Rules     []Rule

	tags map[string]struct{}
}

func NewAggregate(basePort int, inboundProtocol string) *Aggregate {
	if inboundProtocol == "" {
		inboundProtocol = "http"
	}
	return &Aggregate{
		BasePort:        basePort,
		InboundProtocol: inboundProtocol,
		tags:            make(map[string]struct{}),
	}
}

func (a *Aggregate) Len() int {
	return len(a.Outbounds)
}

// Add appends the next candidate and returns its local port.
// Nothing is appended when the outbound cannot be built.
func (a *Aggregate) Add(p *model.Proxy) (int, error) {
	i := len(a.Outbounds)
	return a.add(p, fmt.Sprintf("in_%d", i), fmt.Sprintf("out_%d", i))
}

func (a *Aggregate) add(p *model.Proxy, inTag, outTag string) (int, error) {
	port := a.BasePort + len(a.Outbounds)
	if port > 65535 {
		return 0, fmt.Errorf("inbound port %d out of range", port)
	}
	for _, tag := range []string{inTag, outTag} {
		if _, ok := a.tags[tag]; ok {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
		}
	}

	out, err := BuildOutbound(p, outTag)
	if err != nil {
		return 0, err
	}

	a.tags[inTag] = struct{}{}
	a.tags[outTag] = struct{}{}
	a.Outbounds = append(a.Outbounds, *out)
	a.Inbounds = append(a.Inbounds, a.inbound(inTag, port))
	a.Rules = append(a.Rules, Rule{
		DomainMatcher: "hybrid",
		Type:          "field",
		InboundTag:    []string{inTag},
		OutboundTag:   outTag,
	})
	return port, nil
}

func (a *Aggregate) inbound(tag string, port int) Inbound {
	settings := map[string]interface{}{}
	if a.InboundProtocol == "socks" {
		settings["auth"] = "noauth"
		settings["udp"] = false
	}
	return Inbound{
		Tag:      tag,
		Listen:   listenAddress,
		Port:     port,
		Protocol: a.InboundProtocol,
		Settings: settings,
		Sniffing: Sniffing{Enabled: true, DestOverride: []string{"http", "tls"}},
		Allocate: Allocate{Strategy: "always", Refresh: 5, Concurrency: 3},
	}
}

// Template is a parsed engine config whose unknown sections are passed through.
type Template map[string]json.RawMessage

// LoadTemplate reads a JSON template from path, or returns the built-in one
// when path is empty.
func LoadTemplate(path string) (Template, error) {
	data := []byte(defaultTemplate)
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read engine template: %w", err)
		}
	}

	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse engine template %q: %w", path, err)
	}
	if t == nil {
		t = Template{}
	}
	return t, nil
}

// Render merges the aggregate into the template. Generated inbounds and
// outbounds replace the template's; routing keeps its other fields but gets
// the generated rules.
func (t Template) Render(a *Aggregate) ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(t)+3)
	for k, v := range t {
		doc[k] = v
	}

	routing := map[string]json.RawMessage{}
	if raw, ok := t["routing"]; ok {
		if err := json.Unmarshal(raw, &routing); err != nil {
			return nil, fmt.Errorf("template routing section: %w", err)
		}
	}
	if _, ok := routing["domainStrategy"]; !ok {
		routing["domainStrategy"] = json.RawMessage(`"AsIs"`)
	}

	sections := map[string]interface{}{
		"inbounds":  nonNil(a.Inbounds),
		"outbounds": nonNil(a.Outbounds),
	}
	for key, v := range sections {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc[key] = raw
	}

	rules, err := json.Marshal(nonNil(a.Rules))
	if err != nil {
		return nil, err
	}
	routing["rules"] = rules
	if doc["routing"], err = json.Marshal(routing); err != nil {
		return nil, err
	}

	return json.MarshalIndent(doc, "", "  ")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// WriteConfig writes data to dir/config.json, creating dir when needed.
func WriteConfig(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write engine config: %w", err)
	}
	return path, nil
}
