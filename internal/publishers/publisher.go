package publishers

import (
	"fmt"

	"rayscan/internal/model"
)

// Entry is one live proxy handed to publishers.
type Entry struct {
	Proxy   model.Proxy
	Country string // ISO code of the exit, may be empty
}

type Publisher interface {
	Publish(entries []Entry, config map[string]interface{}) error
}

type Factory func() Publisher

var registry = make(map[string]Factory)

func Register(name string, factory Factory) {
	registry[name] = factory
}

func Get(name string) (Publisher, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("publisher plugin '%s' not found", name)
	}
	return factory(), nil
}
