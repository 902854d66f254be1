// Package messages is the message store: audio blobs plus a per-mailbox
// queue of messages referencing them.
//
// A recording session is persisted once as an audio row; each recipient
// gets its own message row pointing at it. Both are written in a single
// transaction, so a recipient either sees the complete message or nothing.
// The engine only appends messages and flips them to read. It never
// deletes.
//
// Store adds change notification on top of the SQLite repository: a
// watcher registered for a mailbox receives the full unread snapshot
// (oldest first) on registration and after every committed change to
// that mailbox.
//
// Usage:
//
//	repo := messages.NewSQLiteRepository(db, audio.EncodingZstd)
//	store := messages.NewStore(repo)
//	cancel, err := store.Watch(ctx, "kitchen", func(unread []messages.Message) {
//	    // called from the writer's goroutine; hand off, don't block
//	})
//	defer cancel()
package messages
