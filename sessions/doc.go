// Package sessions holds the process-wide table of session-scoped key/value
// mappings.
//
// A Session is identified by an opaque id and owns a map from string keys to
// arbitrary values. Sessions are created empty the first time an id is bound
// and live until they are explicitly evicted. Every read and write of a
// session's mapping happens under that session's own lock, so calls bound to
// the same id are serialized while calls on distinct ids proceed in parallel.
//
// Persistence is explicit. Store.Load and Store.Save call out to a Loader or
// Saver exactly once, under the same per-session lock used for reads and
// writes, so persistence never races with an in-flight mutation. The store
// never persists on its own.
//
//	store := sessions.NewStore()
//	sess := store.Bind("abc")
//	sess.Set("theme", "dark")
//	if err := store.Save(ctx, "abc", sessions.NewStoragePersister(st)); err != nil {
//	    return err
//	}
package sessions
