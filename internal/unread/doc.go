// Package unread reconstructs what a user missed while unreachable.
//
// The server keeps no read markers. ComputeUnread takes the user's durable
// last-disconnected time and selects every message in the user's
// conversations with a strictly later timestamp:
//
//	acct := unread.NewAccountant(store, logger)
//	missed, err := acct.ComputeUnread(ctx, "u-123")
//	for convID, sum := range missed {
//	    fmt.Println(convID, sum.Count, sum.Mentioned)
//	}
//
// A mention is "@" followed by the exact username, bounded by non-word
// characters on both sides.
//
// Tally is the client half: it is seeded from a snapshot and then advanced
// by live deliveries for conversations the client does not have open.
package unread
