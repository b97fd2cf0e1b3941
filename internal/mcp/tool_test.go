package mcp

import (
	"encoding/json"
	"testing"
)

func TestToolInfoParametersRequiredAndOptional(t *testing.T) {
	tool := &ToolInfo{
		Name: "search",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "search text"},
				"limit": {"type": "integer", "default": 10}
			},
			"required": ["query"]
		}`),
	}
	params := tool.Parameters()
	if !params["query"].Required {
		t.Fatal("expected query to be required")
	}
	if params["limit"].Required {
		t.Fatal("expected limit to be optional")
	}
	if params["limit"].Default != float64(10) {
		t.Fatalf("expected default 10, got %v", params["limit"].Default)
	}
}

func TestUnwrapResultTextContent(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"hello world"}]}`)
	result, err := UnwrapResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	if result != "hello world" {
		t.Fatalf("expected plain string, got %v", result)
	}
}

func TestUnwrapResultTextContentParsesEmbeddedJSON(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"{\"count\":3}"}]}`)
	result, err := UnwrapResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected parsed map, got %T", result)
	}
	if m["count"] != float64(3) {
		t.Fatalf("expected count 3, got %v", m["count"])
	}
}

func TestUnwrapResultVerbatimShape(t *testing.T) {
	raw := json.RawMessage(`{"ok":true}`)
	result, err := UnwrapResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["ok"] != true {
		t.Fatalf("expected verbatim map, got %v", result)
	}
}
