// Package mcpservice is the dispatch entry point. A Server owns a registry of
// tools, resources and prompts, a session store and an execution bridge, and
// turns one Request into one Response.
//
// Quick start:
//
//	type CalcArgs struct {
//	    Operation string  `json:"operation" jsonschema:"pattern=^(add|subtract|multiply|divide)$"`
//	    A         float64 `json:"a"`
//	    B         float64 `json:"b"`
//	}
//
//	srv := mcpservice.NewServer(mcpservice.WithWorkers(4))
//	err := srv.Register(
//	    mcpservice.NewTool("calculate", func(ctx context.Context, inv *invocation.Context, a CalcArgs) (any, error) {
//	        if a.Operation == "divide" && a.B == 0 {
//	            return nil, errors.New("division by zero")
//	        }
//	        return calc(a), nil
//	    }, mcpservice.WithDescription("Basic arithmetic")),
//	)
//	srv.Freeze()
//
//	res := srv.Dispatch(ctx, mcpservice.Request{
//	    Kind:      registry.KindTool,
//	    Target:    "calculate",
//	    Arguments: map[string]any{"operation": "add", "a": 1, "b": 2},
//	})
//
// Resources are registered under a URI template such as
// "users://{user_id}/{section}"; placeholders become string parameters unless
// the argument struct describes them.
//
// The protocol-shaped helpers (CallTool, ReadResource, GetPrompt and the
// List methods) wrap Dispatch and the registry for transports that speak MCP.
package mcpservice
