package invocation

import "context"

// Suspender releases the execution lane held by the current call. Suspend
// returns a function that reacquires it; the returned function blocks until
// the lane is free again and must be called exactly once.
//
// A context carrying a held lane belongs to the handler goroutine. Nested
// calls made with it run inline on that lane, so it must not be handed to
// other goroutines while the lane is held. Work started from other goroutines
// belongs inside Context.Await, where the lane is released and nested calls
// queue for it like any other caller.
type Suspender interface {
	Suspend(ctx context.Context) (resume func())
}

type suspenderKey struct{}

// WithSuspender returns a context carrying s.
func WithSuspender(ctx context.Context, s Suspender) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, suspenderKey{}, s)
}

// SuspenderFrom returns the Suspender in ctx, if any.
func SuspenderFrom(ctx context.Context) (Suspender, bool) {
	s, ok := ctx.Value(suspenderKey{}).(Suspender)
	return s, ok && s != nil
}
