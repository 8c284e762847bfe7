package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer registers every tool of reg on an MCP server.
func NewMCPServer(reg *Registry, version string) *server.MCPServer {
	s := server.NewMCPServer("fixloop-tools", version, server.WithToolCapabilities(false))
	for _, def := range reg.Definitions() {
		name := def.Name
		s.AddTool(mcpTool(def), mcp.NewStructuredToolHandler(
			func(ctx context.Context, _ mcp.CallToolRequest, args map[string]any) (any, error) {
				return reg.Call(ctx, name, args)
			}))
	}
	return s
}

func mcpTool(def Definition) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
	required := make(map[string]bool, len(def.InputSchema.Required))
	for _, r := range def.InputSchema.Required {
		required[r] = true
	}

	for _, name := range sortedKeys(def.InputSchema.Properties) {
		prop := def.InputSchema.Properties[name]
		popts := []mcp.PropertyOption{mcp.Description(prop.Description)}
		if required[name] {
			popts = append(popts, mcp.Required())
		}
		switch prop.Type {
		case "number":
			opts = append(opts, mcp.WithNumber(name, popts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, popts...))
		case "string":
			opts = append(opts, mcp.WithString(name, popts...))
		default:
			panic(fmt.Sprintf("tools: unsupported property type %q", prop.Type))
		}
	}
	return mcp.NewTool(def.Name, opts...)
}
