package toolstub

import (
	"encoding/json"
	"strings"
	"testing"

	"orchestrator/internal/mcp"
)

func TestGenerateServerModuleRequiredBeforeOptional(t *testing.T) {
	tool := mcp.ToolInfo{
		Name: "web-search",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"limit": {"type": "integer", "default": 5}
			},
			"required": ["query"]
		}`),
	}
	module := GenerateServerModule("search", []mcp.ToolInfo{tool})

	if !strings.Contains(module.Content, "def web_search(query: str, limit: Optional[int] = None)") {
		t.Fatalf("expected sanitized function signature, got:\n%s", module.Content)
	}
	if !strings.Contains(module.Content, `_call_mcp_tool("search", "web-search", args)`) {
		t.Fatalf("expected delegation to _call_mcp_tool, got:\n%s", module.Content)
	}
}

func TestGenerateMCPClientModuleDoesNotInlineSecrets(t *testing.T) {
	configs := []*mcp.ServerConfig{
		{
			Name:      "search",
			Transport: mcp.TransportStdio,
			Command:   "node",
			Env:       map[string]string{"API_KEY": "${SEARCH_API_KEY}"},
		},
	}
	module := GenerateMCPClientModule(configs)

	if !strings.Contains(module.Content, "${SEARCH_API_KEY}") {
		t.Fatalf("expected placeholder to survive verbatim, got:\n%s", module.Content)
	}
	if strings.Contains(module.Content, "SEARCH_API_KEY_RESOLVED") {
		t.Fatal("generated module must never contain a resolved secret value")
	}
}

func TestGenerateToolDocIncludesParameters(t *testing.T) {
	tool := mcp.ToolInfo{
		Name:        "read_file",
		Description: "Read a file from disk",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}
	doc := GenerateToolDoc("fs", tool)
	if !strings.Contains(doc.Content, "# fs.read_file") {
		t.Fatalf("expected heading, got:\n%s", doc.Content)
	}
	if !strings.Contains(doc.Content, "`path` (string, required)") {
		t.Fatalf("expected parameter doc, got:\n%s", doc.Content)
	}
}
