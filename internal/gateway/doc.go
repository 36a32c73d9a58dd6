// Package gateway orchestrates the huddle-gateway server components.
//
// # Overview
//
// The gateway owns the store, the presence registry, the conversation
// directory, the message pipeline, unread accounting and the optional bot.
// It serves all of them behind a single HTTP server, listening on TCP or on a
// tailscale node.
//
// # HTTP API
//
//	GET  /health                     liveness, always 200
//	GET  /health/ready               store ping and connected-user count
//	GET  /chat/conversations?userId  conversations with participants and messages
//	POST /chat/join                  {"userId", "groupId"}
//	GET  /chat/unread-messages?userId
//	GET  /ws                         websocket upgrade
//
// Errors are JSON bodies of the form {"error": "..."}.
//
// # Websocket
//
// Each frame is a JSON envelope {"event": name, "data": payload}. A
// connection becomes a presence handle once it sends saveSocketID. Events
// from one connection are applied in arrival order; a rejected event is
// answered with deliveryFailed on the same connection and the connection
// stays open. When the connection closes, every user bound to it is
// released and their disconnect time is recorded.
//
// Outbound events are queued per connection. A connection whose queue is
// full misses the event, the same as an offline user.
//
// # Authentication
//
// With auth.jwt_secret set, every /chat endpoint and /ws requires a token
// whose subject is the user the request acts as. Health endpoints are open.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown stops accepting requests, closes open sockets, waits for pending
// bot replies and closes the store.
package gateway
