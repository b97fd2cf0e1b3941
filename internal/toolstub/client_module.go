package toolstub

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"orchestrator/internal/mcp"
)

// GenerateMCPClientModule emits the top-level mcp_client module used by
// every per-server stub module. It embeds the server registry with
// ${VAR} placeholders left unresolved — resolution happens inside the
// sandbox at call time, so no secret ever appears in generated source
// (spec §4.4, testable property 6).
func GenerateMCPClientModule(configs []*mcp.ServerConfig) Module {
	sorted := make([]*mcp.ServerConfig, len(configs))
	copy(sorted, configs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	registry := make(map[string]clientServerEntry, len(sorted))
	for _, cfg := range sorted {
		registry[cfg.Name] = clientServerEntry{
			Transport: string(cfg.Transport),
			Command:   cfg.Command,
			Args:      cfg.Args,
			Env:       cfg.Env, // unresolved on purpose
			URL:       cfg.URL,
		}
	}
	registryJSON, _ := json.MarshalIndent(registry, "", "    ")

	var b strings.Builder
	b.WriteString("\"\"\"Generated MCP client used by in-sandbox tool stubs. Do not edit by hand.\"\"\"\n\n")
	b.WriteString("import json\n")
	b.WriteString("import os\n")
	b.WriteString("import subprocess\n")
	b.WriteString("import threading\n")
	b.WriteString("from typing import Any, Dict\n\n")

	fmt.Fprintf(&b, "_SERVERS: Dict[str, Dict[str, Any]] = %s\n\n", registryJSON)

	b.WriteString(`_processes: Dict[str, subprocess.Popen] = {}
_locks: Dict[str, threading.Lock] = {}
_locks_guard = threading.Lock()
_request_id = 0
_request_id_guard = threading.Lock()


def _next_id() -> int:
    global _request_id
    with _request_id_guard:
        _request_id += 1
        return _request_id


def _server_lock(name: str) -> threading.Lock:
    with _locks_guard:
        if name not in _locks:
            _locks[name] = threading.Lock()
        return _locks[name]


def _resolve_env(env: Dict[str, str]) -> Dict[str, str]:
    resolved = dict(os.environ)
    for key, value in env.items():
        resolved[key] = os.path.expandvars(value)
    return resolved


def _ensure_started(name: str) -> subprocess.Popen:
    lock = _server_lock(name)
    with lock:
        proc = _processes.get(name)
        if proc is not None and proc.poll() is None:
            return proc
        config = _SERVERS[name]
        env = _resolve_env(config.get("env") or {})
        proc = subprocess.Popen(
            [config["command"], *config.get("args", [])],
            stdin=subprocess.PIPE,
            stdout=subprocess.PIPE,
            env=env,
            text=True,
            bufsize=1,
        )
        _processes[name] = proc
        _handshake(proc)
        return proc


def _handshake(proc: subprocess.Popen) -> None:
    init = {
        "jsonrpc": "2.0",
        "id": _next_id(),
        "method": "initialize",
        "params": {
            "protocolVersion": "2024-11-05",
            "capabilities": {},
            "clientInfo": {"name": "sandbox-mcp-client", "version": "1.0.0"},
        },
    }
    proc.stdin.write(json.dumps(init) + "\n")
    proc.stdin.flush()
    proc.stdout.readline()

    notif = {"jsonrpc": "2.0", "method": "notifications/initialized"}
    proc.stdin.write(json.dumps(notif) + "\n")
    proc.stdin.flush()


def _call_mcp_tool(server: str, tool: str, args: Dict[str, Any]) -> Any:
    proc = _ensure_started(server)
    lock = _server_lock(server)
    with lock:
        request = {
            "jsonrpc": "2.0",
            "id": _next_id(),
            "method": "tools/call",
            "params": {"name": tool, "arguments": args},
        }
        proc.stdin.write(json.dumps(request) + "\n")
        proc.stdin.flush()
        line = proc.stdout.readline()
        response = json.loads(line)

    if "error" in response:
        err = response["error"]
        raise RuntimeError(f"mcp error from {server}/{tool}: {err.get('code')} {err.get('message')}")

    result = response.get("result")
    if isinstance(result, dict) and isinstance(result.get("content"), list) and result["content"]:
        text = result["content"][0].get("text", "")
        try:
            return json.loads(text)
        except (ValueError, TypeError):
            return text
    return result
`)

	return Module{Path: "tools/mcp_client.py", Content: b.String()}
}

type clientServerEntry struct {
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
}
