// Package dsl parses and validates versioned protocol DSL documents.
// Only dslVersion "1" is structurally validated; any other version
// (including legacy opaque content) passes through untouched so older
// protocols keep publishing.
package dsl

import (
	"encoding/json"
	"fmt"
)

// DSLVersion1 is the only structurally validated document version.
const DSLVersion1 = "1"

// Document is a versioned protocol definition.
type Document struct {
	DSLVersion   string   `json:"dslVersion"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Graph        *Graph   `json:"graph,omitempty"`
}

// Graph is the process step graph of a DSL v1 document.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single process step.
type Node struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Edge is a directed dependency between two nodes.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Parse decodes a DSL document from JSON.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse DSL document: %w", err)
	}
	return &doc, nil
}

// Validated reports whether documents of this version are structurally
// validated at all.
func (d *Document) Validated() bool {
	return d.DSLVersion == DSLVersion1
}

func (d *Document) hasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
