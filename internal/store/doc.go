// Package store provides persistence for huddle-gateway.
//
// # Overview
//
// The store is the durable record of users, conversations and messages. It is
// backed by SQLite, using either the pure Go driver (modernc.org/sqlite, the
// default) or the cgo driver (github.com/mattn/go-sqlite3).
//
// # Tables
//
//   - users: id, unique username, last_disconnected (unix nanos, nullable)
//   - conversations: kind (private or group), pair_key for private pairs,
//     group admin/name/subject, last_updated and the last assigned sequence
//   - conversation_participants: membership with an explicit position so
//     group participants keep their join order
//   - messages: immutable entries with a per-conversation sequence number
//
// # Uniqueness
//
// A private conversation is identified by PairKey, the sorted pair of its
// participants. The (kind, pair_key) unique index turns a racing second
// insert into ErrDuplicateConversation, which callers resolve by re-reading.
//
// # Appends
//
// AppendMessage runs in a single transaction that reads the conversation's
// last_updated, assigns the next sequence number and a timestamp strictly
// greater than last_updated, inserts the message and bumps the conversation.
//
// # Testing
//
// MockStore is an in-memory Store with the same uniqueness, sequencing and
// ordering rules, for tests that do not need a database file.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/huddle/huddle.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
package store
