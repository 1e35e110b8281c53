package xray

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	xlog "github.com/xtls/xray-core/common/log"
	"github.com/xtls/xray-core/infra/conf"

	"rayscan/internal/logger"
)

var routeCoreLogs sync.Once

// coreLogHandler sends xray-core's in-process log records (deprecation notes
// from the config builder) to our logger at debug level.
type coreLogHandler struct{}

func (coreLogHandler) Handle(msg xlog.Message) {
	logger.Log.Debugf("[xray-core] %s", msg.String())
}

// ValidateOutbound dry-runs the engine's own config builder on o, so a
// malformed candidate can be skipped instead of failing the whole engine.
func ValidateOutbound(o *Outbound) (err error) {
	routeCoreLogs.Do(func() { xlog.RegisterHandler(coreLogHandler{}) })
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xray config builder panic: %v", r)
		}
	}()

	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}

	var detour conf.OutboundDetourConfig
	if err := json.Unmarshal(raw, &detour); err != nil {
		return fmt.Errorf("outbound %s: %w", o.Tag, err)
	}

	if _, err := detour.Build(); err != nil {
		return fmt.Errorf("outbound %s: %w", o.Tag, err)
	}
	return nil
}

// BusyPorts returns the ports in [from, from+count) that cannot be bound on
// the loopback interface right now.
func BusyPorts(from, count int) []int {
	var busy []int
	for port := from; port < from+count; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", listenAddress, port))
		if err != nil {
			busy = append(busy, port)
			continue
		}
		l.Close()
	}
	return busy
}
