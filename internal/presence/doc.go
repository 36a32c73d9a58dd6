// Package presence tracks which users are reachable right now.
//
// A user is reachable through at most one connection handle. Registering a
// new handle for a user silently replaces the old binding; the old connection
// stays open but stops receiving that user's events. When a connection closes,
// Release drops every binding that still points at it and stamps the user's
// last-disconnected time, which unread accounting later compares against.
//
// Nothing here is persisted: after a restart nobody is reachable until their
// client sends saveSocketID again.
package presence
