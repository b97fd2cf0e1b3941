package mcp

import (
	"encoding/json"
	"testing"
)

func TestRequestIDGeneratorIsMonotonic(t *testing.T) {
	gen := NewRequestIDGenerator()
	first := gen.Next()
	second := gen.Next()
	if second <= first {
		t.Fatalf("expected monotonic increase, got %d then %d", first, second)
	}
}

func TestNewRequestIsNotANotification(t *testing.T) {
	req, err := NewRequest(int64(1), "tools/list", nil)
	if err != nil {
		t.Fatal(err)
	}
	if req.IsNotification() {
		t.Fatal("request with id must not be a notification")
	}
}

func TestNewNotificationHasNoID(t *testing.T) {
	req, err := NewNotification("notifications/initialized", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !req.IsNotification() {
		t.Fatal("request with no id must be a notification")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	req, err := NewRequest(int64(7), "tools/call", map[string]any{"name": "search"})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := UnmarshalRequest(raw)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Method != "tools/call" {
		t.Fatalf("expected method tools/call, got %s", parsed.Method)
	}
	idFloat, ok := parsed.ID.(float64)
	if !ok || int64(idFloat) != 7 {
		t.Fatalf("expected id 7, got %v", parsed.ID)
	}
}

func TestNewErrorResponseRoundTrip(t *testing.T) {
	resp := NewErrorResponse(int64(3), InvalidParams, "bad params", map[string]string{"field": "name"})
	raw, err := Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := UnmarshalResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Error == nil || parsed.Error.Code != InvalidParams {
		t.Fatalf("expected InvalidParams error, got %+v", parsed.Error)
	}
}

func TestNewResponseEncodesArbitraryResult(t *testing.T) {
	resp, err := NewResponse(int64(1), map[string]any{"tools": []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %v", decoded.Tools)
	}
}
