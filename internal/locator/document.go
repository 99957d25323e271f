// Package locator re-resolves element anchors that no longer point at a
// usable node. It runs a fixed chain of strategies against the live document,
// scores the candidates and picks one deterministically.
package locator

import (
	"context"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"
)

// Query kinds understood by a Document.
const (
	QueryCSS     = "css"
	QueryARIA    = "aria"
	QueryText    = "text"
	QueryBackend = "backend"
)

// Query asks the document for matching elements.
type Query struct {
	Kind string
	// Selector is used by css queries.
	Selector string
	// Role and Name are used by aria queries; an empty role matches any.
	Role string
	Name string
	// Text is used by text queries. Exact requires the trimmed text to be equal,
	// otherwise a case-insensitive substring match is enough.
	Text  string
	Exact bool
	// BackendNodeID is used by backend queries.
	BackendNodeID int64
	// Limit caps the result size; zero means the document default.
	Limit int
}

// Element is one node reported by a Document.
type Element struct {
	BackendNodeID int64       `json:"backend_node_id"`
	Selector      string      `json:"selector,omitempty"`
	Tag           string      `json:"tag,omitempty"`
	Role          string      `json:"role,omitempty"`
	Name          string      `json:"name,omitempty"`
	Text          string      `json:"text,omitempty"`
	Box           anchor.Rect `json:"box"`
	Visible       bool        `json:"visible"`
}

// Document is the read-only view of the page the strategies search.
type Document interface {
	Find(ctx context.Context, route action.Route, q Query) ([]Element, error)
}
