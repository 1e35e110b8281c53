package xray

import (
	"fmt"

	"rayscan/internal/model"
)

type Outbound struct {
	Tag            string          `json:"tag"`
	Protocol       string          `json:"protocol"`
	Settings       interface{}     `json:"settings"`
	StreamSettings *StreamSettings `json:"streamSettings"`
}

type VMessSettings struct {
	Vnext []VMessServer `json:"vnext"`
}

type VMessServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VMessUser `json:"users"`
}

type VMessUser struct {
	ID       string `json:"id"`
	Security string `json:"security"`
	Level    int    `json:"level"`
}

type VLESSSettings struct {
	Vnext []VLESSServer `json:"vnext"`
}

type VLESSServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VLESSUser `json:"users"`
}

type VLESSUser struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption"`
	Level      int    `json:"level"`
	Flow       string `json:"flow"`
}

type TrojanSettings struct {
	Servers []TrojanServer `json:"servers"`
}

type TrojanServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	Level    int    `json:"level"`
}

// BuildOutbound converts one descriptor into an engine outbound tagged tag.
func BuildOutbound(p *model.Proxy, tag string) (*Outbound, error) {
	port, err := p.Port.Int()
	if err != nil {
		return nil, err
	}

	streamSettings, err := buildStreamSettings(p)
	if err != nil {
		return nil, err
	}

	var settings interface{}
	switch p.Type {
	case model.ProtocolVMess:
		settings = buildVMess(p, port)
	case model.ProtocolVLESS:
		settings = buildVLESS(p, port)
	case model.ProtocolTrojan:
		settings = buildTrojan(p, port)
	default:
		return nil, fmt.Errorf("protocol conversion not implemented: %s", p.Type)
	}

	return &Outbound{
		Tag:            tag,
		Protocol:       string(p.Type),
		Settings:       settings,
		StreamSettings: streamSettings,
	}, nil
}

func buildVMess(p *model.Proxy, port int) VMessSettings {
	return VMessSettings{
		Vnext: []VMessServer{{
			Address: p.Server,
			Port:    port,
			Users:   []VMessUser{{ID: p.UUID, Security: "auto", Level: 0}},
		}},
	}
}

func buildVLESS(p *model.Proxy, port int) VLESSSettings {
	return VLESSSettings{
		Vnext: []VLESSServer{{
			Address: p.Server,
			Port:    port,
			Users:   []VLESSUser{{ID: p.UUID, Encryption: "none", Level: 0, Flow: p.Flow}},
		}},
	}
}

func buildTrojan(p *model.Proxy, port int) TrojanSettings {
	return TrojanSettings{
		Servers: []TrojanServer{{
			Address:  p.Server,
			Port:     port,
			Password: p.Password,
			Level:    0,
		}},
	}
}
