// Package gateway documents the boundary an external tool-calling
// collaborator (an MCP gateway, a CLI, a notebook kernel) would call
// through. It is an interface only — no MCP SDK is wired, matching the
// spec's explicit non-goal of a model-inference bridge.
package gateway

import "context"

// ToolDescriptor is the discoverable shape of one Shell/Query tool: enough
// for a caller to build a request without reading broker source.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Schema is a JSON Schema document describing the request body this
	// tool accepts, left opaque here since its shape is tool-specific.
	Schema map[string]interface{} `json:"schema"`
}

// Dispatch is the narrow contract a gateway needs: discover tools, then
// invoke one by name with an opaque JSON body, getting back an opaque JSON
// response. Mirrors the teacher's own MCPCaller boundary (Name/Tools),
// generalized from "list of tool callers" to "invoke a tool by name",
// since a gateway doesn't need the broker's internal ToolHandler type.
type Dispatch interface {
	Name() string
	Tools(ctx context.Context) ([]ToolDescriptor, error)
	Invoke(ctx context.Context, tool string, request []byte) (response []byte, err error)
}
