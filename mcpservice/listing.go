package mcpservice

import (
	"strconv"

	"github.com/ggoodman/mcp-dispatch-go/mcp"
	"github.com/ggoodman/mcp-dispatch-go/registry"
)

// Page represents a single page of results with an optional cursor for
// fetching the next page. Items is never nil.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures a Page constructed via NewPage.
type PageOption[T any] func(*Page[T])

// WithNextCursor marks that more results are available.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) {
		p.NextCursor = &cursor
	}
}

// NewPage constructs a Page. A nil items slice becomes empty.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// ListTools returns tool descriptors in registration order. A nil cursor
// requests the first page.
func (s *Server) ListTools(cursor *string) Page[mcp.Tool] {
	recs := s.reg.List(registry.KindTool)
	all := make([]mcp.Tool, len(recs))
	for i, rec := range recs {
		all[i] = toolDescriptor(rec)
	}
	return pageSlice(all, s.pageSize, cursor)
}

// ListResourceTemplates returns resource templates in registration order.
func (s *Server) ListResourceTemplates(cursor *string) Page[mcp.ResourceTemplate] {
	recs := s.reg.List(registry.KindResource)
	all := make([]mcp.ResourceTemplate, len(recs))
	for i, rec := range recs {
		all[i] = mcp.ResourceTemplate{
			URITemplate: rec.Name,
			Name:        rec.Name,
			Description: rec.Description,
			MimeType:    rec.MimeType,
		}
	}
	return pageSlice(all, s.pageSize, cursor)
}

// ListPrompts returns prompt descriptors in registration order.
func (s *Server) ListPrompts(cursor *string) Page[mcp.Prompt] {
	recs := s.reg.List(registry.KindPrompt)
	all := make([]mcp.Prompt, len(recs))
	for i, rec := range recs {
		all[i] = mcp.Prompt{
			Name:        rec.Name,
			Description: rec.Description,
			Arguments:   rec.Params.PromptArguments(),
		}
	}
	return pageSlice(all, s.pageSize, cursor)
}

func toolDescriptor(rec *registry.Record) mcp.Tool {
	t := mcp.Tool{
		Name:        rec.Name,
		Description: rec.Description,
		InputSchema: rec.Params.InputSchema(rec.AllowUnknown),
	}
	if rec.Output != nil {
		t.OutputSchema = rec.Output.Shape()
	}
	return t
}

// pageSlice paginates a slice using an integer cursor (offset as decimal).
// An unreadable cursor restarts from the first page.
func pageSlice[T any](all []T, pageSize int, cursor *string) Page[T] {
	start := 0
	if cursor != nil && *cursor != "" {
		if n, err := strconv.Atoi(*cursor); err == nil && n >= 0 && n <= len(all) {
			start = n
		}
	}
	end := min(start+pageSize, len(all))
	items := make([]T, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[T](strconv.Itoa(end)))
	}
	return NewPage(items)
}
