package xray

import (
	"fmt"

	"rayscan/internal/model"
)

const (
	// TLSFingerprint is the uTLS client hello every outbound spoofs.
	TLSFingerprint = "random"
)

var tlsALPN = []string{"http/1.1"}

type StreamSettings struct {
	Network      string        `json:"network"`
	Security     string        `json:"security"`
	TLSSettings  *TLSSettings  `json:"tlsSettings,omitempty"`
	WSSettings   *WSSettings   `json:"wsSettings,omitempty"`
	GRPCSettings *GRPCSettings `json:"grpcSettings,omitempty"`
	RawSettings  *RawSettings  `json:"rawSettings,omitempty"`
}

type TLSSettings struct {
	ServerName    string   `json:"serverName"`
	AllowInsecure bool     `json:"allowInsecure"`
	ALPN          []string `json:"alpn"`
	Fingerprint   string   `json:"fingerprint"`
}

type WSSettings struct {
	Path string `json:"path"`
	Host string `json:"host,omitempty"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
}

type RawSettings struct {
	Header RawHeader `json:"header"`
}

type RawHeader struct {
	Type string `json:"type"`
}

// buildStreamSettings assembles transport and security for one candidate.
func buildStreamSettings(p *model.Proxy) (*StreamSettings, error) {
	sc := &StreamSettings{Security: "none"}

	switch p.Transport() {
	case model.TransportRaw:
		sc.Network = "raw"
		sc.RawSettings = &RawSettings{Header: RawHeader{Type: "none"}}
	case model.TransportWS:
		path := p.WSPath()
		if path == "" {
			path = "/"
		}
		sc.Network = "ws"
		sc.WSSettings = &WSSettings{Path: path, Host: p.WSHost()}
	case model.TransportGRPC:
		sc.Network = "grpc"
		sc.GRPCSettings = &GRPCSettings{ServiceName: p.GRPCServiceName()}
	default:
		return nil, fmt.Errorf("unsupported transport %q", p.Network)
	}

	if p.TLSEnabled() {
		sni := p.TLSServerName()
		if sni == "" {
			sni = p.Server
		}
		sc.Security = "tls"
		sc.TLSSettings = &TLSSettings{
			ServerName:    sni,
			AllowInsecure: true,
			ALPN:          append([]string(nil), tlsALPN...),
			Fingerprint:   TLSFingerprint,
		}
	}

	return sc, nil
}
