// Package conversation coordinates conversations and message delivery.
//
// # Overview
//
// The package sits between the transport handlers and the store. It owns two
// services:
//
//   - Directory: conversation existence, creation, deduplication and membership
//   - Pipeline: append a message to the durable log, then fan it out
//
// # Directory
//
//	dir := conversation.NewDirectory(store, registry, logger)
//
// Key operations:
//
//   - FindOrCreatePrivate(ctx, a, b): one private conversation per unordered pair
//   - CreateGroup(ctx, req): always creates; announces groupCreated to participants
//   - Join(ctx, conversationID, userID): NotFound, InvalidKind or AlreadyMember
//   - Get(ctx, conversationID)
//   - ListForUser(ctx, userID): populated records, most recently updated first
//
// Private creation never does a bare check-then-insert. The store's unique
// pair index makes the losing insert of a race fail with a duplicate error,
// and the loser returns the winner's conversation instead.
//
// # Pipeline
//
//	p := conversation.NewPipeline(store, dir, registry, logger)
//	p.SetResponder(augmenter)
//
// Send runs under a per-conversation lock:
//
//  1. Resolve the conversation (missing: ErrNotFound) and check membership
//  2. Resolve the sender's display name
//  3. Append; the store assigns the sequence number and a strictly increasing timestamp
//  4. Deliver receiveMessage once to every participant the registry can reach
//
// After the lock is released, a message carrying the responder's trigger
// starts the responder on its own goroutine. The responder re-enters through
// Publish, which skips the trigger check so replies never trigger replies.
//
// Different conversations never share a lock and proceed in parallel.
package conversation
