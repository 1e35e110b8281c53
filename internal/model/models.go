package model

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Protocol string

const (
	ProtocolVMess  Protocol = "vmess"
	ProtocolVLESS  Protocol = "vless"
	ProtocolTrojan Protocol = "trojan"
)

// Supported reports whether the discriminator names one of the scanned protocols.
func (p Protocol) Supported() bool {
	switch p {
	case ProtocolVMess, ProtocolVLESS, ProtocolTrojan:
		return true
	}
	return false
}

type Transport string

const (
	TransportRaw  Transport = "raw"
	TransportWS   Transport = "ws"
	TransportGRPC Transport = "grpc"
)

// Proxy is a single candidate descriptor in Clash proxy format.
// Type is the discriminator; protocol specific fields are only meaningful for
// the matching Type (UUID/ServerName for vmess and vless, Password/SNI for trojan).
type Proxy struct {
	Name           string    `yaml:"name"`
	Type           Protocol  `yaml:"type"`
	Server         string    `yaml:"server"`
	Port           PortValue `yaml:"port"`
	Network        Transport `yaml:"network,omitempty"`
	TLS            bool      `yaml:"tls,omitempty"`
	SkipCertVerify bool      `yaml:"skip-cert-verify,omitempty"`
	UDP            bool      `yaml:"udp,omitempty"`

	// VMess / VLESS
	UUID       string `yaml:"uuid,omitempty"`
	AlterID    int    `yaml:"alterId,omitempty"`
	Cipher     string `yaml:"cipher,omitempty"`
	ServerName string `yaml:"servername,omitempty"`
	Flow       string `yaml:"flow,omitempty"`

	// Trojan
	Password string `yaml:"password,omitempty"`
	SNI      string `yaml:"sni,omitempty"`

	WSOpts   *WSOptions   `yaml:"ws-opts,omitempty"`
	GRPCOpts *GRPCOptions `yaml:"grpc-opts,omitempty"`

	// Keys we do not model are carried through so published documents keep them.
	Extra map[string]interface{} `yaml:",inline"`
}

type WSOptions struct {
	Path    string    `yaml:"path,omitempty"`
	Headers WSHeaders `yaml:"headers,omitempty"`
}

type WSHeaders struct {
	Host string `yaml:"Host,omitempty"`
}

type GRPCOptions struct {
	ServiceName string `yaml:"grpc-service-name,omitempty"`
}

// Transport normalizes the network field. Empty and "tcp" both mean raw.
func (p *Proxy) Transport() Transport {
	switch strings.ToLower(string(p.Network)) {
	case "", "tcp", "raw":
		return TransportRaw
	case "ws", "websocket":
		return TransportWS
	case "grpc":
		return TransportGRPC
	default:
		return Transport(strings.ToLower(string(p.Network)))
	}
}

// TLSServerName returns the SNI override for the protocol (servername or sni).
func (p *Proxy) TLSServerName() string {
	if p.Type == ProtocolTrojan {
		return p.SNI
	}
	return p.ServerName
}

// TLSEnabled is true when TLS is requested or a server-name override exists.
// Trojan always runs over TLS.
func (p *Proxy) TLSEnabled() bool {
	if p.Type == ProtocolTrojan {
		return true
	}
	return p.TLS || p.ServerName != ""
}

// WSHost returns the websocket Host header, or "" when none is set.
func (p *Proxy) WSHost() string {
	if p.WSOpts == nil {
		return ""
	}
	return p.WSOpts.Headers.Host
}

func (p *Proxy) WSPath() string {
	if p.WSOpts == nil {
		return ""
	}
	return p.WSOpts.Path
}

func (p *Proxy) GRPCServiceName() string {
	if p.GRPCOpts == nil {
		return ""
	}
	return p.GRPCOpts.ServiceName
}

// Clone returns a deep copy; nested option structs and Extra are not shared.
func (p Proxy) Clone() Proxy {
	c := p
	if p.WSOpts != nil {
		ws := *p.WSOpts
		c.WSOpts = &ws
	}
	if p.GRPCOpts != nil {
		g := *p.GRPCOpts
		c.GRPCOpts = &g
	}
	if p.Extra != nil {
		c.Extra = make(map[string]interface{}, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// WithTLSServerName returns a copy with the protocol's server-name field set.
func (p Proxy) WithTLSServerName(name string) Proxy {
	c := p.Clone()
	if c.Type == ProtocolTrojan {
		c.SNI = name
	} else {
		c.ServerName = name
	}
	return c
}

// WithWSHost returns a copy with the websocket Host header forced to host.
// An empty path is defaulted to "/".
func (p Proxy) WithWSHost(host string) Proxy {
	c := p.Clone()
	if c.WSOpts == nil {
		c.WSOpts = &WSOptions{}
	}
	if c.WSOpts.Path == "" {
		c.WSOpts.Path = "/"
	}
	c.WSOpts.Headers.Host = host
	return c
}

func (p *Proxy) String() string {
	return fmt.Sprintf("%s[%s %s:%s]", p.Name, p.Type, p.Server, p.Port)
}

// PortValue keeps the port as written in the source; some subscriptions quote it.
type PortValue string

func (v *PortValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: port must be a scalar", node.Line)
	}
	*v = PortValue(strings.TrimSpace(node.Value))
	return nil
}

func (v PortValue) MarshalYAML() (interface{}, error) {
	if n, err := v.Int(); err == nil {
		return n, nil
	}
	return string(v), nil
}

// Int parses the port and checks the TCP range.
func (v PortValue) Int() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(v)))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", string(v), err)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}

// Candidate is a filtered descriptor with its scan-scoped slot.
type Candidate struct {
	Index  int
	Port   int
	Proxy  Proxy
	Source Proxy
	Origin int // input position of Source
}
