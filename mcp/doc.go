// Package mcp contains the protocol data types produced by the dispatch
// engine: tool, resource template and prompt descriptors, the result envelopes
// for tools/call, resources/read and prompts/get, and the progress and logging
// notification payloads.
//
// The package is free of transport logic. A transport marshals these types
// with encoding/json; the mcpservice package constructs them from handler
// results.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// # Logging Levels
//
// LoggingLevel values mirror syslog severities. Use IsValidLoggingLevel to
// validate user-provided values.
package mcp
