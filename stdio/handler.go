package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ggoodman/mcp-dispatch-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-dispatch-go/invocation"
	"github.com/ggoodman/mcp-dispatch-go/mcp"
	"github.com/ggoodman/mcp-dispatch-go/mcpservice"
)

const maxLineBytes = 4 << 20

// Handler is a single-connection transport that reads JSON-RPC messages from
// an io.Reader and writes replies and notifications to an io.Writer. By
// default it uses os.Stdin and os.Stdout.
type Handler struct {
	srv          *mcpservice.Server
	r            io.Reader
	w            io.Writer
	log          *slog.Logger
	userProvider UserProvider
	sessionID    string
	persister    Persister
	info         mcp.ImplementationInfo
	instructions string

	served   atomic.Bool
	minLevel atomic.Value // mcp.LoggingLevel

	wmu sync.Mutex
	enc *json.Encoder
}

// NewHandler constructs a Handler for srv. srv should be frozen before Serve.
func NewHandler(srv *mcpservice.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		log:          slog.Default(),
		userProvider: OSUserProvider{},
		info:         mcp.ImplementationInfo{Name: "mcp-dispatch-go", Version: "dev"},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.enc = json.NewEncoder(h.w)
	h.minLevel.Store(mcp.LoggingLevelInfo)
	return h
}

// Serve runs the read loop until the input ends or ctx is cancelled, waits
// for in-flight requests, then saves the session when a Persister is set. It
// may be called once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.served.CompareAndSwap(false, true) {
		return errors.New("stdio: Serve called more than once")
	}
	sessionID := h.sessionID
	if sessionID == "" {
		id, err := h.userProvider.CurrentUserID()
		if err != nil {
			return errors.Wrap(err, "stdio: resolve user")
		}
		sessionID = id
	}
	log := h.log.With(slog.String("session_id", sessionID))

	if h.persister != nil {
		if err := h.srv.Sessions().Load(ctx, sessionID, h.persister); err != nil {
			return errors.Wrap(err, "stdio: restore session")
		}
	}
	log.InfoContext(ctx, "stdio.serve.start")
	start := time.Now()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			select {
			case lines <- bytes.Clone(sc.Bytes()):
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		readErr <- sc.Err()
	}()

	var (
		wg  sync.WaitGroup
		err error
	)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				err = errors.Wrap(<-readErr, "stdio: read")
				break loop
			}
			h.dispatch(ctx, log, sessionID, line, &wg)
		}
	}
	wg.Wait()

	if h.persister != nil {
		if serr := h.srv.Sessions().Save(context.WithoutCancel(ctx), sessionID, h.persister); serr != nil && err == nil {
			err = errors.Wrap(serr, "stdio: save session")
		}
	}
	log.InfoContext(ctx, "stdio.serve.stop", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return err
}

func (h *Handler) dispatch(ctx context.Context, log *slog.Logger, sessionID string, line []byte, wg *sync.WaitGroup) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		log.DebugContext(ctx, "stdio.decode.fail", slog.String("err", err.Error()))
		h.write(jsonrpc.NewErrorResponse(nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeParseError, Message: err.Error()}))
		return
	}
	switch msg.Kind() {
	case jsonrpc.KindRequest:
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.request(ctx, log, sessionID, msg)
		}()
	case jsonrpc.KindNotification:
		h.notification(ctx, log, msg)
	default:
		log.DebugContext(ctx, "stdio.response.ignored", slog.String("id", msg.ID.String()))
	}
}

func (h *Handler) notification(ctx context.Context, log *slog.Logger, msg *jsonrpc.AnyMessage) {
	switch mcp.Method(msg.Method) {
	case mcp.CancelledNotificationMethod:
		var p mcp.CancelledNotification
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			log.DebugContext(ctx, "stdio.cancel.invalid", slog.String("err", err.Error()))
			return
		}
		var id jsonrpc.RequestID
		if err := id.UnmarshalJSON(p.RequestID); err != nil {
			log.DebugContext(ctx, "stdio.cancel.invalid", slog.String("err", err.Error()))
			return
		}
		reason := p.Reason
		if reason == "" {
			reason = "cancelled by client"
		}
		h.srv.Cancel(id.Key(), reason)
	case mcp.InitializedNotificationMethod:
		log.DebugContext(ctx, "stdio.initialized")
	default:
		log.DebugContext(ctx, "stdio.notification.ignored", slog.String("method", msg.Method))
	}
}

func (h *Handler) request(ctx context.Context, log *slog.Logger, sessionID string, msg *jsonrpc.AnyMessage) {
	start := time.Now()
	result, err := h.call(ctx, sessionID, msg)
	if err == nil {
		var resp *jsonrpc.Response
		if resp, err = jsonrpc.NewResultResponse(msg.ID, result); err == nil {
			h.write(resp)
			log.DebugContext(ctx, "stdio.request.ok",
				slog.String("method", msg.Method),
				slog.String("id", msg.ID.String()),
				slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		}
	}
	rpcErr := new(jsonrpc.Error)
	if !errors.As(err, &rpcErr) {
		rpcErr = jsonrpc.FromError(err)
	}
	h.write(jsonrpc.NewErrorResponse(msg.ID, rpcErr))
	log.DebugContext(ctx, "stdio.request.fail",
		slog.String("method", msg.Method),
		slog.String("id", msg.ID.String()),
		slog.String("err", err.Error()),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (h *Handler) call(ctx context.Context, sessionID string, msg *jsonrpc.AnyMessage) (any, error) {
	switch mcp.Method(msg.Method) {
	case mcp.InitializeMethod:
		var p mcp.InitializeRequest
		if err := decodeParams(msg.Params, &p, false); err != nil {
			return nil, err
		}
		return &mcp.InitializeResult{
			ProtocolVersion: mcp.LatestProtocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Logging:   &struct{}{},
				Prompts:   &struct{}{},
				Resources: &struct{}{},
				Tools:     &struct{}{},
			},
			ServerInfo:   h.info,
			Instructions: h.instructions,
		}, nil

	case mcp.PingMethod:
		return struct{}{}, nil

	case mcp.ToolsListMethod:
		cursor, err := decodeCursor(msg.Params)
		if err != nil {
			return nil, err
		}
		page := h.srv.ListTools(cursor)
		return &mcp.ListToolsResult{Tools: nonNil(page.Items), PaginatedResult: nextCursor(page.NextCursor)}, nil

	case mcp.ResourcesTemplatesListMethod:
		cursor, err := decodeCursor(msg.Params)
		if err != nil {
			return nil, err
		}
		page := h.srv.ListResourceTemplates(cursor)
		return &mcp.ListResourceTemplatesResult{ResourceTemplates: nonNil(page.Items), PaginatedResult: nextCursor(page.NextCursor)}, nil

	case mcp.PromptsListMethod:
		cursor, err := decodeCursor(msg.Params)
		if err != nil {
			return nil, err
		}
		page := h.srv.ListPrompts(cursor)
		return &mcp.ListPromptsResult{Prompts: nonNil(page.Items), PaginatedResult: nextCursor(page.NextCursor)}, nil

	case mcp.ToolsCallMethod:
		var p mcp.CallToolRequest
		if err := decodeParams(msg.Params, &p, true); err != nil {
			return nil, err
		}
		return h.srv.CallTool(ctx, sessionID, p, h.callOptions(msg.ID, p.Meta)...)

	case mcp.ResourcesReadMethod:
		var p mcp.ReadResourceRequest
		if err := decodeParams(msg.Params, &p, true); err != nil {
			return nil, err
		}
		return h.srv.ReadResource(ctx, sessionID, p, h.callOptions(msg.ID, p.Meta)...)

	case mcp.PromptsGetMethod:
		var p mcp.GetPromptRequest
		if err := decodeParams(msg.Params, &p, true); err != nil {
			return nil, err
		}
		return h.srv.GetPrompt(ctx, sessionID, p, h.callOptions(msg.ID, p.Meta)...)

	case mcp.LoggingSetLevelMethod:
		var p mcp.SetLevelRequest
		if err := decodeParams(msg.Params, &p, true); err != nil {
			return nil, err
		}
		if err := h.srv.SetLogLevel(p.Level); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
		}
		h.minLevel.Store(p.Level)
		return struct{}{}, nil
	}
	return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "method not found: " + msg.Method}
}

func (h *Handler) callOptions(id *jsonrpc.RequestID, meta *mcp.RequestMeta) []mcpservice.CallOption {
	var token mcp.ProgressToken
	if meta != nil {
		token = meta.ProgressToken
	}
	return []mcpservice.CallOption{
		mcpservice.WithRequestID(id.Key()),
		mcpservice.WithObserver(invocation.ObserverFuncs{
			Progress: func(ev invocation.ProgressEvent) {
				if token == nil {
					return
				}
				h.write(jsonrpc.NewNotification(string(mcp.ProgressNotificationMethod), mcp.ProgressNotificationParams{
					ProgressToken: token,
					Progress:      ev.Current,
					Total:         ev.Total,
					Message:       ev.Message,
				}))
			},
			Log: func(e invocation.LogEntry) {
				if !h.logEnabled(e.Level) {
					return
				}
				h.write(jsonrpc.NewNotification(string(mcp.LoggingMessageNotificationMethod), mcp.LoggingMessageNotification{
					Level:  e.Level,
					Data:   e.Message,
					Logger: e.RequestID,
				}))
			},
		}),
	}
}

func (h *Handler) logEnabled(level mcp.LoggingLevel) bool {
	floor, _ := mcpservice.SlogLevel(h.minLevel.Load().(mcp.LoggingLevel))
	lv, err := mcpservice.SlogLevel(level)
	return err == nil && lv >= floor
}

func (h *Handler) write(v any) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if err := h.enc.Encode(v); err != nil {
		h.log.Error("stdio.write.fail", slog.String("err", err.Error()))
	}
}

func decodeParams(raw json.RawMessage, v any, required bool) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if required {
			return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "missing params"}
		}
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func decodeCursor(raw json.RawMessage) (*string, error) {
	var p mcp.PaginatedRequest
	if err := decodeParams(raw, &p, false); err != nil {
		return nil, err
	}
	if p.Cursor == "" {
		return nil, nil
	}
	return &p.Cursor, nil
}

func nextCursor(c *string) mcp.PaginatedResult {
	if c == nil {
		return mcp.PaginatedResult{}
	}
	return mcp.PaginatedResult{NextCursor: *c}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
