// Package stdio serves an mcpservice.Server over newline-delimited JSON-RPC
// on stdin and stdout.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Session          : one per connection, named by WithSessionID or the OS user
//	Persistence      : optional; loaded when Serve starts and saved when it ends
//	Concurrency      : requests run concurrently; replies are written as they finish
//
// Progress for a request is sent as notifications/progress when the request
// carries a progress token. Handler log entries at or above the level chosen
// with logging/setLevel are sent as notifications/message.
//
// Example:
//
//	srv := mcpservice.NewServer()
//	_ = srv.Register(mcpservice.NewTool("echo", echo))
//	srv.Freeze()
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
