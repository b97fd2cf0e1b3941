// Package toolstub turns discovered MCP tool schemas into Python source
// code uploaded into the sandbox, so that code executed there can invoke
// MCP tools as ordinary function calls (spec §4.4).
package toolstub

import (
	"fmt"
	"sort"
	"strings"

	"orchestrator/internal/mcp"
)

// Module is one generated source file destined for the sandbox.
type Module struct {
	Path    string
	Content string
}

var pythonTypeByJSONType = map[string]string{
	"string":  "str",
	"number":  "float",
	"integer": "int",
	"boolean": "bool",
	"array":   "List",
	"object":  "Dict",
	"null":    "None",
}

func pythonType(jsonType string) string {
	if t, ok := pythonTypeByJSONType[jsonType]; ok {
		return t
	}
	return "Any"
}

// functionName maps a tool name to a valid Python identifier: '-' and '.'
// become '_'.
func functionName(toolName string) string {
	replaced := strings.NewReplacer("-", "_", ".", "_").Replace(toolName)
	return replaced
}

// GenerateServerModule emits one module per server, containing one
// function per tool. Required parameters come first; optional parameters
// follow with defaults. Each function builds an argument mapping
// (dropping None values) and delegates to _call_mcp_tool.
func GenerateServerModule(serverName string, tools []mcp.ToolInfo) Module {
	var b strings.Builder
	fmt.Fprintf(&b, "\"\"\"Generated MCP tool stubs for server %q. Do not edit by hand.\"\"\"\n\n", serverName)
	b.WriteString("from typing import Any, Dict, List, Optional\n\n")
	b.WriteString("from mcp_client import _call_mcp_tool\n\n")

	sortedTools := make([]mcp.ToolInfo, len(tools))
	copy(sortedTools, tools)
	sort.Slice(sortedTools, func(i, j int) bool { return sortedTools[i].Name < sortedTools[j].Name })

	for _, tool := range sortedTools {
		writeFunction(&b, serverName, tool)
	}

	return Module{
		Path:    fmt.Sprintf("tools/%s.py", serverName),
		Content: b.String(),
	}
}

type orderedParam struct {
	name string
	mcp.Parameter
}

func writeFunction(b *strings.Builder, serverName string, tool mcp.ToolInfo) {
	params := tool.Parameters()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([]orderedParam, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, orderedParam{name: name, Parameter: params[name]})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Required && !ordered[j].Required
	})

	fn := functionName(tool.Name)
	sig := make([]string, 0, len(ordered))
	for _, p := range ordered {
		pyType := pythonType(paramTypeString(p.Parameter))
		if p.Required {
			sig = append(sig, fmt.Sprintf("%s: %s", p.name, pyType))
		} else {
			sig = append(sig, fmt.Sprintf("%s: Optional[%s] = None", p.name, pyType))
		}
	}

	fmt.Fprintf(b, "def %s(%s) -> Any:\n", fn, strings.Join(sig, ", "))
	if tool.Description != "" {
		fmt.Fprintf(b, "    \"\"\"%s\"\"\"\n", sanitizeDocLine(tool.Description))
	}
	b.WriteString("    args: Dict[str, Any] = {\n")
	for _, p := range ordered {
		fmt.Fprintf(b, "        %q: %s,\n", p.name, p.name)
	}
	b.WriteString("    }\n")
	b.WriteString("    args = {k: v for k, v in args.items() if v is not None}\n")
	fmt.Fprintf(b, "    return _call_mcp_tool(%q, %q, args)\n\n\n", serverName, tool.Name)
}

func paramTypeString(p mcp.Parameter) string {
	if p.Type == "" {
		return "any"
	}
	return p.Type
}

func sanitizeDocLine(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\"\"\"", "'''"), "\n", " ")
}

// GenerateToolDoc emits one markdown doc per tool for optional retrieval
// by the agent.
func GenerateToolDoc(serverName string, tool mcp.ToolInfo) Module {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s.%s\n\n", serverName, tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", tool.Description)
	}
	params := tool.Parameters()
	if len(params) > 0 {
		b.WriteString("## Parameters\n\n")
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := params[name]
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "- `%s` (%s, %s): %s\n", name, paramTypeString(p), req, p.Description)
		}
	}
	return Module{
		Path:    fmt.Sprintf("tools/docs/%s.%s.md", serverName, tool.Name),
		Content: b.String(),
	}
}
