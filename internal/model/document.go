package model

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var ErrEmptyDocument = errors.New("document has no usable proxies")

// Document is the top-level shape of both input and output files.
type Document struct {
	Proxies []Proxy `yaml:"proxies"`
}

// Skipped describes an input element that was not a usable descriptor.
type Skipped struct {
	Position int
	Reason   string
}

// ParseDocument decodes a proxies document. Elements that are not mappings or
// carry an unsupported type are reported in skipped rather than failing the
// whole document; a document without any usable element is ErrEmptyDocument.
func ParseDocument(data []byte) ([]Proxy, []Skipped, error) {
	var raw struct {
		Proxies []yaml.Node `yaml:"proxies"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse proxies document: %w", err)
	}
	if len(raw.Proxies) == 0 {
		return nil, nil, ErrEmptyDocument
	}

	var proxies []Proxy
	var skipped []Skipped
	for i := range raw.Proxies {
		node := &raw.Proxies[i]
		if node.Kind != yaml.MappingNode {
			skipped = append(skipped, Skipped{Position: i, Reason: "not a mapping"})
			continue
		}
		var p Proxy
		if err := node.Decode(&p); err != nil {
			skipped = append(skipped, Skipped{Position: i, Reason: err.Error()})
			continue
		}
		if !p.Type.Supported() {
			skipped = append(skipped, Skipped{Position: i, Reason: fmt.Sprintf("unsupported type %q", p.Type)})
			continue
		}
		proxies = append(proxies, p)
	}

	if len(proxies) == 0 {
		return nil, skipped, ErrEmptyDocument
	}
	return proxies, skipped, nil
}

// Marshal renders proxies as a document.
func Marshal(proxies []Proxy) ([]byte, error) {
	if proxies == nil {
		proxies = []Proxy{}
	}
	return yaml.Marshal(Document{Proxies: proxies})
}
