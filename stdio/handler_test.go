package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-dispatch-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcp"
	"github.com/ggoodman/mcp-dispatch-go/mcpservice"
	"github.com/ggoodman/mcp-dispatch-go/sessions"
	"github.com/ggoodman/mcp-dispatch-go/storage/memory"
)

const waitLimit = 2 * time.Second

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// testHarness drives a Handler through pipes and collects its output lines.
type testHarness struct {
	t      *testing.T
	stdinW *io.PipeWriter
	done   chan error

	outMu sync.Mutex
	lines []string
}

func newHarness(t *testing.T, srv *mcpservice.Server, opts ...Option) *testHarness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := NewHandler(srv, append([]Option{WithIO(inR, outW), WithLogger(discard), WithSessionID("test")}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, stdinW: inW, done: make(chan error, 1)}

	go func() {
		th.done <- h.Serve(ctx)
		_ = outW.Close()
	}()
	go func() {
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			th.outMu.Lock()
			th.lines = append(th.lines, sc.Text())
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		select {
		case <-th.done:
		case <-time.After(waitLimit):
			t.Errorf("Serve did not return")
		}
	})
	return th
}

func (th *testHarness) send(raw string) {
	th.t.Helper()
	if _, err := io.WriteString(th.stdinW, raw+"\n"); err != nil {
		th.t.Fatalf("write: %v", err)
	}
}

func (th *testHarness) request(id int, method string, params any) {
	th.t.Helper()
	b, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	if err != nil {
		th.t.Fatalf("marshal: %v", err)
	}
	th.send(string(b))
}

// next removes and returns the first collected message that satisfies match.
func (th *testHarness) next(match func(*jsonrpc.AnyMessage) bool) *jsonrpc.AnyMessage {
	th.t.Helper()
	deadline := time.Now().Add(waitLimit)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		for i, line := range th.lines {
			msg, err := jsonrpc.Decode([]byte(line))
			if err != nil {
				th.outMu.Unlock()
				th.t.Fatalf("decode %q: %v", line, err)
			}
			if match(msg) {
				th.lines = append(th.lines[:i], th.lines[i+1:]...)
				th.outMu.Unlock()
				return msg
			}
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	th.t.Fatalf("timed out waiting for message")
	return nil
}

func (th *testHarness) response(id int) *jsonrpc.AnyMessage {
	th.t.Helper()
	want := fmt.Sprint(id)
	return th.next(func(m *jsonrpc.AnyMessage) bool { return m.Kind() == jsonrpc.KindResponse && m.ID.String() == want })
}

func (th *testHarness) result(id int, v any) {
	th.t.Helper()
	msg := th.response(id)
	if msg.Error != nil {
		th.t.Fatalf("request %d failed: %+v", id, msg.Error)
	}
	if err := json.Unmarshal(msg.Result, v); err != nil {
		th.t.Fatalf("decode result %d: %v", id, err)
	}
}

func (th *testHarness) failure(id int) *jsonrpc.Error {
	th.t.Helper()
	msg := th.response(id)
	if msg.Error == nil {
		th.t.Fatalf("request %d succeeded: %s", id, msg.Result)
	}
	return msg.Error
}

func (th *testHarness) notifications(method string) []*jsonrpc.AnyMessage {
	th.outMu.Lock()
	defer th.outMu.Unlock()
	var out []*jsonrpc.AnyMessage
	for _, line := range th.lines {
		if msg, err := jsonrpc.Decode([]byte(line)); err == nil && msg.Method == method {
			out = append(out, msg)
		}
	}
	return out
}

func dataCode(t *testing.T, e *jsonrpc.Error) string {
	t.Helper()
	data, ok := e.Data.(map[string]any)
	if !ok {
		t.Fatalf("error data = %#v", e.Data)
	}
	code, _ := data["code"].(string)
	return code
}

type addArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func add(_ context.Context, _ *invocation.Context, a addArgs) (any, error) {
	return a.A + a.B, nil
}

type echoArgs struct {
	Text string `json:"text"`
}

func newTestServer(t *testing.T, defs ...mcpservice.Definition) *mcpservice.Server {
	t.Helper()
	srv := mcpservice.NewServer(mcpservice.WithLogger(discard))
	defs = append([]mcpservice.Definition{mcpservice.NewTool("add", add, mcpservice.WithDescription("Add two numbers"))}, defs...)
	if err := srv.Register(defs...); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv.Freeze()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitLimit)
		defer cancel()
		_ = srv.Close(ctx)
	})
	return srv
}

func TestInitialize_HappyPath(t *testing.T) {
	th := newHarness(t, newTestServer(t), WithServerInfo(mcp.ImplementationInfo{Name: "calc", Version: "1.2.3"}))

	th.request(1, string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
	})
	var res mcp.InitializeResult
	th.result(1, &res)
	if res.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("protocol version = %q", res.ProtocolVersion)
	}
	if res.ServerInfo.Name != "calc" || res.ServerInfo.Version != "1.2.3" {
		t.Fatalf("server info = %+v", res.ServerInfo)
	}
	if res.Capabilities.Tools == nil || res.Capabilities.Logging == nil {
		t.Fatalf("capabilities = %+v", res.Capabilities)
	}

	th.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	th.request(2, string(mcp.PingMethod), nil)
	if msg := th.response(2); msg.Error != nil {
		t.Fatalf("ping failed: %+v", msg.Error)
	}
}

func TestTools_ListAndCall(t *testing.T) {
	th := newHarness(t, newTestServer(t))

	th.request(1, string(mcp.ToolsListMethod), nil)
	var list mcp.ListToolsResult
	th.result(1, &list)
	if len(list.Tools) != 1 || list.Tools[0].Name != "add" {
		t.Fatalf("tools = %+v", list.Tools)
	}
	if list.NextCursor != "" {
		t.Fatalf("unexpected cursor %q", list.NextCursor)
	}

	th.request(2, string(mcp.ToolsCallMethod), map[string]any{"name": "add", "arguments": map[string]any{"a": 1, "b": 2}})
	var call mcp.CallToolResult
	th.result(2, &call)
	if call.IsError || len(call.Content) != 1 || call.Content[0].Text != "3" {
		t.Fatalf("call result = %+v", call)
	}

	th.request(3, string(mcp.ToolsCallMethod), map[string]any{"name": "missing"})
	if e := th.failure(3); e.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("missing tool code = %d", e.Code)
	}

	th.request(4, string(mcp.ToolsCallMethod), map[string]any{"name": "add", "arguments": map[string]any{"a": "x", "b": 2}})
	e := th.failure(4)
	if e.Code != jsonrpc.ErrorCodeInvalidParams || dataCode(t, e) != "validation_error" {
		t.Fatalf("validation failure = %+v", e)
	}

	th.request(5, string(mcp.ToolsCallMethod), nil)
	if e := th.failure(5); e.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("missing params code = %d", e.Code)
	}

	th.request(6, "tools/unknown", nil)
	if e := th.failure(6); e.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("unknown method code = %d", e.Code)
	}
}

func TestParseErrorHasNullID(t *testing.T) {
	th := newHarness(t, newTestServer(t))
	th.send(`{"jsonrpc":`)
	msg := th.next(func(m *jsonrpc.AnyMessage) bool { return m.Kind() == jsonrpc.KindResponse })
	if msg.ID != nil || msg.Error == nil || msg.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("parse error reply = %+v", msg)
	}
}

func TestProgressNotifications(t *testing.T) {
	steps := func(_ context.Context, inv *invocation.Context, _ struct{}) (any, error) {
		for i := 1; i <= 3; i++ {
			if err := inv.ReportProgress(float64(i), 3, ""); err != nil {
				return nil, err
			}
		}
		return "done", nil
	}
	th := newHarness(t, newTestServer(t, mcpservice.NewTool("steps", steps)))

	th.request(1, string(mcp.ToolsCallMethod), map[string]any{"name": "steps", "_meta": map[string]any{"progressToken": "tok"}})
	var res mcp.CallToolResult
	th.result(1, &res)

	got := th.notifications(string(mcp.ProgressNotificationMethod))
	if len(got) != 3 {
		t.Fatalf("progress notifications = %d, want 3", len(got))
	}
	var last mcp.ProgressNotificationParams
	if err := json.Unmarshal(got[2].Params, &last); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if last.ProgressToken != "tok" || last.Progress != 3 || last.Total != 3 {
		t.Fatalf("last progress = %+v", last)
	}

	th.request(2, string(mcp.ToolsCallMethod), map[string]any{"name": "steps"})
	th.result(2, &res)
	if n := len(th.notifications(string(mcp.ProgressNotificationMethod))); n != 3 {
		t.Fatalf("progress sent without a token: %d notifications", n)
	}
}

func TestCancellation_ToolsCall(t *testing.T) {
	started := make(chan struct{})
	slow := func(ctx context.Context, inv *invocation.Context, _ struct{}) (any, error) {
		return nil, inv.Await(ctx, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}
	th := newHarness(t, newTestServer(t, mcpservice.NewTool("slow", slow)))

	th.request(7, string(mcp.ToolsCallMethod), map[string]any{"name": "slow"})
	select {
	case <-started:
	case <-time.After(waitLimit):
		t.Fatalf("slow tool never started")
	}
	th.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":7,"reason":"stop"}}`)

	e := th.failure(7)
	if dataCode(t, e) != "cancelled" || !strings.Contains(e.Message, "stop") {
		t.Fatalf("cancel reply = %+v", e)
	}
}

func TestStringAndNumberIDsAreDistinctRequests(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	hold := func(ctx context.Context, inv *invocation.Context, _ struct{}) (any, error) {
		started <- struct{}{}
		err := inv.Await(ctx, func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return "released", err
	}
	th := newHarness(t, newTestServer(t, mcpservice.NewTool("hold", hold)))

	th.send(`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"hold"}}`)
	th.send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"hold"}}`)
	for range 2 {
		select {
		case <-started:
		case <-time.After(waitLimit):
			t.Fatalf("both requests should be running")
		}
	}

	// Cancelling the numeric id leaves the string one running.
	th.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`)
	byKey := func(key string) func(*jsonrpc.AnyMessage) bool {
		return func(m *jsonrpc.AnyMessage) bool { return m.Kind() == jsonrpc.KindResponse && m.ID.Key() == key }
	}
	num := th.next(byKey(jsonrpc.NumberID(1).Key()))
	if num.Error == nil || dataCode(t, num.Error) != "cancelled" {
		t.Fatalf("numeric reply = %+v", num)
	}

	close(release)
	str := th.next(byKey(jsonrpc.StringID("1").Key()))
	if str.Error != nil {
		t.Fatalf("string reply failed: %+v", str.Error)
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(str.Result, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "released" {
		t.Fatalf("string result = %+v", res)
	}
}

func TestResourcesAndPrompts(t *testing.T) {
	doc := func(_ context.Context, _ *invocation.Context, a struct {
		Name string `json:"name"`
	}) (any, error) {
		return "contents of " + a.Name, nil
	}
	greet := func(_ context.Context, _ *invocation.Context, a echoArgs) (any, error) {
		return "Say hello to " + a.Text, nil
	}
	th := newHarness(t, newTestServer(t,
		mcpservice.NewResource("docs://{name}", doc),
		mcpservice.NewPrompt("greet", greet, mcpservice.WithDescription("Greeting")),
	))

	th.request(1, string(mcp.ResourcesTemplatesListMethod), nil)
	var templates mcp.ListResourceTemplatesResult
	th.result(1, &templates)
	if len(templates.ResourceTemplates) != 1 || templates.ResourceTemplates[0].URITemplate != "docs://{name}" {
		t.Fatalf("templates = %+v", templates.ResourceTemplates)
	}

	th.request(2, string(mcp.ResourcesReadMethod), mcp.ReadResourceRequest{URI: "docs://readme"})
	var read mcp.ReadResourceResult
	th.result(2, &read)
	if len(read.Contents) != 1 || read.Contents[0].Text != "contents of readme" {
		t.Fatalf("contents = %+v", read.Contents)
	}

	th.request(3, string(mcp.PromptsListMethod), map[string]any{})
	var prompts mcp.ListPromptsResult
	th.result(3, &prompts)
	if len(prompts.Prompts) != 1 || prompts.Prompts[0].Name != "greet" {
		t.Fatalf("prompts = %+v", prompts.Prompts)
	}

	th.request(4, string(mcp.PromptsGetMethod), mcp.GetPromptRequest{Name: "greet", Arguments: map[string]string{"text": "Ada"}})
	var prompt mcp.GetPromptResult
	th.result(4, &prompt)
	if prompt.Description != "Greeting" || len(prompt.Messages) != 1 || prompt.Messages[0].Content.Text != "Say hello to Ada" {
		t.Fatalf("prompt = %+v", prompt)
	}
}

func TestLogging_SetLevelAndMessages(t *testing.T) {
	chatty := func(_ context.Context, inv *invocation.Context, _ struct{}) (any, error) {
		inv.Infof("routine")
		inv.Warningf("careful")
		return "ok", nil
	}
	th := newHarness(t, newTestServer(t, mcpservice.NewTool("chatty", chatty)))

	th.request(1, string(mcp.LoggingSetLevelMethod), mcp.SetLevelRequest{Level: mcp.LoggingLevelWarning})
	var empty struct{}
	th.result(1, &empty)

	th.request(2, string(mcp.ToolsCallMethod), map[string]any{"name": "chatty"})
	var res mcp.CallToolResult
	th.result(2, &res)

	logs := th.notifications(string(mcp.LoggingMessageNotificationMethod))
	if len(logs) != 1 {
		t.Fatalf("log notifications = %d, want 1", len(logs))
	}
	var entry mcp.LoggingMessageNotification
	if err := json.Unmarshal(logs[0].Params, &entry); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if entry.Level != mcp.LoggingLevelWarning || entry.Data != "careful" || entry.Logger != "2" {
		t.Fatalf("log entry = %+v", entry)
	}

	th.request(3, string(mcp.LoggingSetLevelMethod), mcp.SetLevelRequest{Level: "loud"})
	if e := th.failure(3); e.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("bad level code = %d", e.Code)
	}
}

func TestSessionFromUserProvider(t *testing.T) {
	who := func(_ context.Context, inv *invocation.Context, _ struct{}) (any, error) {
		return inv.SessionID(), nil
	}
	srv := newTestServer(t, mcpservice.NewTool("whoami", who))
	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"whoami"}}` + "\n")
	h := NewHandler(srv, WithIO(in, &out), WithLogger(discard), WithUserProvider(StaticUser("bob")))
	if err := h.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !strings.Contains(out.String(), `"text":"bob"`) {
		t.Fatalf("output = %s", out.String())
	}
	if err := h.Serve(context.Background()); err == nil {
		t.Fatalf("second Serve succeeded")
	}
}

func TestSessionPersistsAcrossConnections(t *testing.T) {
	st, err := memory.New(100)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	persister := sessions.NewStoragePersister(st)

	bump := func(_ context.Context, inv *invocation.Context, _ struct{}) (any, error) {
		return inv.SessionUpdate("n", func(old any, ok bool) (any, bool) {
			var n int64
			switch v := old.(type) {
			case int64:
				n = v
			case json.Number:
				n, _ = v.Int64()
			}
			return n + 1, true
		})
	}
	call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"bump"}}` + "\n"

	for i, want := range []string{`"text":"1"`, `"text":"2"`} {
		srv := newTestServer(t, mcpservice.NewTool("bump", bump))
		var out bytes.Buffer
		h := NewHandler(srv, WithIO(strings.NewReader(call), &out), WithLogger(discard), WithSessionID("alice"), WithPersister(persister))
		if err := h.Serve(context.Background()); err != nil {
			t.Fatalf("connection %d: Serve: %v", i, err)
		}
		if !strings.Contains(out.String(), want) {
			t.Fatalf("connection %d: output = %s, want %s", i, out.String(), want)
		}
	}
}
