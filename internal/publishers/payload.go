package publishers

import (
	"fmt"
	"strings"

	"rayscan/internal/model"
)

// GeneratePayload renders entries as a {proxies: [...]} YAML document.
// With "annotate" set, names are prefixed with the exit country flag.
func GeneratePayload(entries []Entry, config map[string]interface{}) ([]byte, error) {
	annotate, _ := config["annotate"].(bool)

	proxies := make([]model.Proxy, 0, len(entries))
	for _, e := range entries {
		p := e.Proxy.Clone()
		if annotate && e.Country != "" {
			p.Name = fmt.Sprintf("%s %s %s", getFlagEmoji(e.Country), strings.ToUpper(e.Country), p.Name)
		}
		proxies = append(proxies, p)
	}
	return model.Marshal(proxies)
}

func getFlagEmoji(countryCode string) string {
	if len(countryCode) != 2 {
		return "🌐"
	}
	countryCode = strings.ToUpper(countryCode)
	return string(rune(countryCode[0])+127397) + string(rune(countryCode[1])+127397)
}
