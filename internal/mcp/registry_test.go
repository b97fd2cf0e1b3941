package mcp

import (
	"context"
	"errors"
	"testing"
)

type fakeConnector struct {
	name          string
	connectErr    error
	tools         []ToolInfo
	callResult    any
	callErr       error
	disconnectErr error
	disconnects   int
}

func (f *fakeConnector) Name() string { return f.name }
func (f *fakeConnector) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeConnector) CallTool(ctx context.Context, tool string, args map[string]any) (any, error) {
	return f.callResult, f.callErr
}
func (f *fakeConnector) Tools() []ToolInfo { return f.tools }
func (f *fakeConnector) Disconnect(ctx context.Context) error {
	f.disconnects++
	return f.disconnectErr
}

func TestRegistryGetAllToolsAfterManualRegister(t *testing.T) {
	reg := NewRegistry(nil)
	reg.connectors["fs"] = &fakeConnector{name: "fs", tools: []ToolInfo{{Name: "read_file"}}}
	reg.connectors["search"] = &fakeConnector{name: "search", tools: []ToolInfo{{Name: "web_search"}}}

	all := reg.GetAllTools()
	if len(all) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(all))
	}
	if all["fs"][0].Name != "read_file" {
		t.Fatalf("unexpected tools for fs: %+v", all["fs"])
	}
}

func TestRegistryCallToolRoutesByServerName(t *testing.T) {
	reg := NewRegistry(nil)
	reg.connectors["search"] = &fakeConnector{name: "search", callResult: "result-value"}

	result, err := reg.CallTool(context.Background(), "search", "web_search", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result != "result-value" {
		t.Fatalf("expected result-value, got %v", result)
	}
}

func TestRegistryCallToolUnknownServer(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.CallTool(context.Background(), "missing", "tool", nil)
	if err == nil {
		t.Fatal("expected error for unknown server")
	}
}

func TestRegistryDisconnectAllToleratesIndividualFailures(t *testing.T) {
	reg := NewRegistry(nil)
	a := &fakeConnector{name: "a"}
	b := &fakeConnector{name: "b", disconnectErr: errors.New("disconnect failed")}
	reg.connectors["a"] = a
	reg.connectors["b"] = b

	if err := reg.DisconnectAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.disconnects != 1 || b.disconnects != 1 {
		t.Fatalf("expected both connectors disconnected once, got a=%d b=%d", a.disconnects, b.disconnects)
	}
	if len(reg.Connectors()) != 0 {
		t.Fatal("expected registry to be empty after DisconnectAll")
	}
}
