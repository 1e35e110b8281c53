package collectors

import (
	"fmt"
	"strings"
)

// Collector fetches a raw descriptor document.
type Collector interface {
	Collect(config map[string]interface{}) ([]byte, error)
}

type Factory func() Collector

var registry = make(map[string]Factory)

func Register(name string, factory Factory) {
	registry[name] = factory
}

func Get(name string) (Collector, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("collector plugin '%s' not found", name)
	}
	return factory(), nil
}

// ForSource picks the collector for a positional input: http(s) URLs go to
// the http collector, anything else is read as a file path.
func ForSource(source string) (Collector, map[string]interface{}, error) {
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		c, err := Get("http")
		return c, map[string]interface{}{"url": source}, err
	}
	c, err := Get("file")
	return c, map[string]interface{}{"path": source}, err
}
