package dsl

import (
	"fmt"
	"strings"
)

// Violation codes reported by Validate.
const (
	CodeMissingGraph      = "missing_graph"
	CodeInvalidNode       = "invalid_node"
	CodeDuplicateNode     = "duplicate_node"
	CodeForbiddenNodeType = "forbidden_node_type"
	CodeMissingParam      = "missing_param"
	CodeMissingCapability = "missing_capability"
	CodeSafetyLimit       = "safety_limit"
	CodeInvalidEdge       = "invalid_edge"
	CodeGraphCycle        = "graph_cycle"
)

// Node type rejected regardless of parameters: bypassing device safety
// interlocks is never a valid process step.
const nodeTypeOverrideSafety = "override_safety"

// maxTemperatureC is the thermal safety limit for incubate/sterilize steps.
const maxTemperatureC = 60.0

// requiredParams maps known node types to the parameters they must declare.
// Unknown types require none.
var requiredParams = map[string][]string{
	"extrude":   {"pressureKpa", "durationMs"},
	"incubate":  {"durationMs", "temperatureC"},
	"sterilize": {"durationMs", "temperatureC"},
	"scan":      {"resolution"},
}

// requiredCapabilities maps known node types to gateway capabilities the
// document must declare.
var requiredCapabilities = map[string][]string{
	"extrude":   {"pressure"},
	"incubate":  {"thermal"},
	"sterilize": {"thermal"},
	"scan":      {"imaging"},
}

// Violation is a single structural problem found in a document.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries the full violation list for callers that want
// detail; its message joins all violations for fail-fast callers.
type ValidationError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return fmt.Sprintf("protocol validation failed: %s", strings.Join(msgs, "; "))
}

// Validate checks a document and returns every violation found. Documents
// whose version is not validated return no violations.
func Validate(doc *Document) []Violation {
	if !doc.Validated() {
		return nil
	}

	if doc.Graph == nil || len(doc.Graph.Nodes) == 0 {
		return []Violation{{Code: CodeMissingGraph, Message: "document requires a graph with at least one node"}}
	}

	var violations []Violation
	add := func(code, format string, args ...interface{}) {
		violations = append(violations, Violation{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	nodeIDs := make(map[string]bool, len(doc.Graph.Nodes))
	for _, node := range doc.Graph.Nodes {
		if node.ID == "" || node.Type == "" {
			add(CodeInvalidNode, "node with id %q type %q: id and type are required", node.ID, node.Type)
			continue
		}
		if nodeIDs[node.ID] {
			add(CodeDuplicateNode, "node %q: duplicate node id", node.ID)
			continue
		}
		nodeIDs[node.ID] = true

		if node.Type == nodeTypeOverrideSafety {
			add(CodeForbiddenNodeType, "node %q: node type %q is not allowed", node.ID, node.Type)
			continue
		}

		for _, param := range requiredParams[node.Type] {
			if _, ok := node.Params[param]; !ok {
				add(CodeMissingParam, "node %q (%s): missing required param %q", node.ID, node.Type, param)
			}
		}
		for _, capability := range requiredCapabilities[node.Type] {
			if !doc.hasCapability(capability) {
				add(CodeMissingCapability, "node %q (%s): document does not declare capability %q", node.ID, node.Type, capability)
			}
		}
		if node.Type == "incubate" || node.Type == "sterilize" {
			if temp, ok := numericParam(node.Params, "temperatureC"); ok && temp > maxTemperatureC {
				add(CodeSafetyLimit, "node %q (%s): temperatureC %.1f exceeds safety limit %.1f", node.ID, node.Type, temp, maxTemperatureC)
			}
		}
	}

	adjacency := make(map[string][]string, len(nodeIDs))
	for _, edge := range doc.Graph.Edges {
		if !nodeIDs[edge.From] || !nodeIDs[edge.To] {
			add(CodeInvalidEdge, "edge %s->%s references unknown node", edge.From, edge.To)
			continue
		}
		if edge.From == edge.To {
			add(CodeInvalidEdge, "edge %s->%s: self-loops are not allowed", edge.From, edge.To)
			continue
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	if hasCycle(doc.Graph.Nodes, adjacency) {
		add(CodeGraphCycle, "graph contains cycle")
	}

	return violations
}

// Require validates a document and returns a single structured error
// enumerating all violations, or nil when the document is valid.
func Require(doc *Document) error {
	violations := Validate(doc)
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// hasCycle runs an iterative depth-first search from every node, tracking an
// on-stack set; any back-edge means a cycle. Iterative so a pathological
// graph cannot exhaust the call stack.
func hasCycle(nodes []Node, adjacency map[string][]string) bool {
	const (
		unvisited = iota
		onStack
		done
	)

	state := make(map[string]int, len(nodes))

	type frame struct {
		id   string
		next int
	}

	for _, node := range nodes {
		if state[node.ID] != unvisited {
			continue
		}

		stack := []frame{{id: node.ID}}
		state[node.ID] = onStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := adjacency[top.id]

			if top.next < len(neighbors) {
				next := neighbors[top.next]
				top.next++
				switch state[next] {
				case onStack:
					return true
				case unvisited:
					state[next] = onStack
					stack = append(stack, frame{id: next})
				}
				continue
			}

			state[top.id] = done
			stack = stack[:len(stack)-1]
		}
	}

	return false
}

// numericParam reads a parameter as a float64, accepting any JSON numeric
// representation.
func numericParam(params map[string]interface{}, name string) (float64, bool) {
	raw, ok := params[name]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
