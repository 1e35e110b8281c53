package engine

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"rayscan/internal/config"
	"rayscan/internal/logger"
	"rayscan/internal/model"
)

// Rejection reasons reported by Filter.
const (
	RejectEmptyServer = "empty server"
	RejectInvalidUUID = "invalid uuid"
	RejectInvalidPort = "invalid port"
	RejectBlocked     = "blocked address"
	RejectDuplicate   = "duplicate server"
)

// Filter drops unusable and duplicate candidates, keeping input order.
type Filter struct {
	BlockedPrefixes []string
	BlockedDomains  []string

	// OnReject is called once per dropped candidate; may be nil.
	OnReject func(d Derived, reason string)
}

func NewFilter(cfg config.FilterConfig) *Filter {
	return &Filter{
		BlockedPrefixes: cfg.BlockedPrefixes,
		BlockedDomains:  cfg.BlockedDomains,
	}
}

// Apply returns the survivors. The first candidate seen for a server wins.
func (f *Filter) Apply(in []Derived) []Derived {
	seen := make(map[string]struct{}, len(in))
	out := make([]Derived, 0, len(in))

	for _, d := range in {
		if reason := f.check(&d.Proxy, seen); reason != "" {
			logger.Log.Debugf("Filtered %s: %s", d.Proxy.String(), reason)
			if f.OnReject != nil {
				f.OnReject(d, reason)
			}
			continue
		}
		seen[d.Proxy.Server] = struct{}{}
		out = append(out, d)
	}
	return out
}

func (f *Filter) check(p *model.Proxy, seen map[string]struct{}) string {
	if strings.TrimSpace(p.Server) == "" {
		return RejectEmptyServer
	}

	switch p.Type {
	case model.ProtocolVMess, model.ProtocolVLESS:
		if uuid.Validate(p.UUID) != nil {
			return RejectInvalidUUID
		}
	}

	port, err := p.Port.Int()
	if err != nil {
		return RejectInvalidPort
	}
	p.Port = model.PortValue(strconv.Itoa(port))

	if f.blocked(p.Server) {
		return RejectBlocked
	}
	if _, dup := seen[p.Server]; dup {
		return RejectDuplicate
	}
	return ""
}

func (f *Filter) blocked(server string) bool {
	for _, prefix := range f.BlockedPrefixes {
		if prefix != "" && strings.HasPrefix(server, prefix) {
			return true
		}
	}
	for _, domain := range f.BlockedDomains {
		if server == domain {
			return true
		}
	}
	return false
}
