package engine

import (
	"rayscan/internal/logger"
	"rayscan/internal/model"
)

// Derived is a normalized descriptor together with the input it came from.
type Derived struct {
	Proxy  model.Proxy
	Source model.Proxy
	Origin int // position of Source in the input
}

// Reshape equalizes server, server-name and ws Host for every ws and grpc
// descriptor, emitting two variants each so both readings of an ambiguous
// entry get probed. Raw and unknown transports are dropped. Input is never
// mutated.
func Reshape(proxies []model.Proxy) []Derived {
	out := make([]Derived, 0, len(proxies)*2)
	dropped := 0

	for i, p := range proxies {
		var a, b model.Proxy
		switch p.Transport() {
		case model.TransportWS:
			a, b = reshapeWS(p)
		case model.TransportGRPC:
			a, b = reshapeGRPC(p)
		default:
			dropped++
			continue
		}
		src := p.Clone()
		out = append(out,
			Derived{Proxy: a, Source: src, Origin: i},
			Derived{Proxy: b, Source: src, Origin: i},
		)
	}

	if dropped > 0 {
		logger.Log.Debugf("Reshape dropped %d descriptors with raw or unsupported transport", dropped)
	}
	return out
}

func reshapeWS(p model.Proxy) (model.Proxy, model.Proxy) {
	if p.TLSEnabled() {
		a := p.WithTLSServerName(p.Server).WithWSHost(p.Server)
		b := cloneAt(p, firstNonEmpty(p.TLSServerName(), p.Server))
		return a, b
	}
	a := p.WithWSHost(p.Server)
	b := cloneAt(p, firstNonEmpty(p.WSHost(), p.Server))
	return a, b
}

func reshapeGRPC(p model.Proxy) (model.Proxy, model.Proxy) {
	if p.TLSEnabled() {
		a := p.WithTLSServerName(p.Server)
		b := cloneAt(p, firstNonEmpty(p.TLSServerName(), p.Server))
		return a, b
	}
	return p.Clone(), cloneAt(p, p.Server)
}

// cloneAt copies p under the clone name, connecting to server.
func cloneAt(p model.Proxy, server string) model.Proxy {
	c := p.Clone()
	c.Name = p.Name + "_clone"
	c.Server = server
	return c
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
