package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Input   InputConfig   `yaml:"input"`
	Engine  EngineConfig  `yaml:"engine"`
	Tester  TesterConfig  `yaml:"tester"`
	Filter  FilterConfig  `yaml:"filter"`
	GeoIP   GeoIPConfig   `yaml:"geoip"`
	Output  OutputConfig  `yaml:"output"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type InputConfig struct {
	ProxyURL string `yaml:"proxy_url"` // fetch subscription URLs through this proxy
}

type EngineConfig struct {
	Binary       string `yaml:"binary"`
	Template     string `yaml:"template"` // Optional JSON template merged into the generated config
	WorkDir      string `yaml:"work_dir"`
	StartupToken string `yaml:"startup_token"`

	StartupTimeout time.Duration `yaml:"startup_timeout"`
	KillTimeout    time.Duration `yaml:"kill_timeout"`
	ReleaseDelay   time.Duration `yaml:"release_delay"`
}

type TesterConfig struct {
	ProbeURL        string `yaml:"probe_url"`
	BasePort        int    `yaml:"base_port"`
	InboundProtocol string `yaml:"inbound_protocol"` // http or socks

	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	PostStartDelay time.Duration `yaml:"post_start_delay"`

	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`

	ValidateOutbounds bool `yaml:"validate_outbounds"`
}

type FilterConfig struct {
	BlockedPrefixes []string `yaml:"blocked_prefixes"`
	BlockedDomains  []string `yaml:"blocked_domains"`
}

type GeoIPConfig struct {
	ASNPath     string `yaml:"asn_path"`
	CountryPath string `yaml:"country_path"`
}

// Values of output.emit.
const (
	EmitSource = "source" // the input entry a live variant came from
	EmitProbed = "probed" // the derived variant that answered
)

type OutputConfig struct {
	Dir        string   `yaml:"dir"`
	Publishers []string `yaml:"publishers"`
	Emit       string   `yaml:"emit"`     // EmitSource or EmitProbed
	Annotate   bool     `yaml:"annotate"` // prefix names with the exit country flag

	GitHub GitHubConfig `yaml:"github"`
}

// GitHubConfig targets a repository file updated by the github publisher.
type GitHubConfig struct {
	Token   string        `yaml:"token"` // falls back to $GITHUB_TOKEN
	Owner   string        `yaml:"owner"`
	Repo    string        `yaml:"repo"`
	Path    string        `yaml:"path"`
	Branch  string        `yaml:"branch"`
	Message string        `yaml:"message"`
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Engine.Binary = "xray"
	cfg.Engine.WorkDir = ".rayscan"
	cfg.Engine.StartupToken = "started"
	cfg.Engine.StartupTimeout = 5 * time.Second
	cfg.Engine.KillTimeout = 3 * time.Second
	cfg.Engine.ReleaseDelay = 500 * time.Millisecond

	cfg.Tester.ProbeURL = "http://ipinfo.io/json"
	cfg.Tester.BasePort = 1081
	cfg.Tester.InboundProtocol = "http"
	cfg.Tester.ProbeTimeout = 15 * time.Second
	cfg.Tester.PostStartDelay = 1 * time.Second
	cfg.Tester.BatchSize = 20
	cfg.Tester.BatchDelay = 1 * time.Second
	cfg.Tester.ValidateOutbounds = true

	cfg.Filter.BlockedPrefixes = []string{"127", "192"}
	cfg.Filter.BlockedDomains = []string{"localhost"}

	cfg.Output.Dir = "."
	cfg.Output.Publishers = []string{"file"}
	cfg.Output.Emit = EmitSource
	cfg.Output.GitHub.Timeout = 30 * time.Second
	return &cfg
}

// Load reads path over the defaults. An empty path means ./config.yaml, which
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Tester.BatchSize <= 0 {
		c.Tester.BatchSize = 20
	}
	if c.Tester.BasePort <= 0 || c.Tester.BasePort > 65535 {
		return fmt.Errorf("tester.base_port %d out of range", c.Tester.BasePort)
	}
	switch c.Tester.InboundProtocol {
	case "":
		c.Tester.InboundProtocol = "http"
	case "http", "socks":
	default:
		return fmt.Errorf("tester.inbound_protocol must be http or socks, got %q", c.Tester.InboundProtocol)
	}
	switch c.Output.Emit {
	case "":
		c.Output.Emit = EmitSource
	case EmitSource, EmitProbed:
	default:
		return fmt.Errorf("output.emit must be source or probed, got %q", c.Output.Emit)
	}
	if c.Engine.StartupToken == "" {
		c.Engine.StartupToken = "started"
	}
	if c.Engine.StartupTimeout <= 0 {
		return fmt.Errorf("engine.startup_timeout must be positive")
	}
	if c.Tester.ProbeTimeout <= 0 {
		return fmt.Errorf("tester.probe_timeout must be positive")
	}
	return nil
}

// LastPort is the highest inbound port a scan of n candidates would bind.
func (t TesterConfig) LastPort(n int) int {
	return t.BasePort + n - 1
}
