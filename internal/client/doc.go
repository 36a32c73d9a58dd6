// Package client is a Go client for huddle-gateway.
//
// Dial opens the websocket and registers the user as reachable:
//
//	c, err := client.Dial(ctx, "u-123", client.Options{
//	    BaseURL:  "http://localhost:8080",
//	    Token:    token,
//	    Username: "alice",
//	})
//	defer c.Close()
//
//	if _, err := c.Unread(ctx); err != nil { ... }  // catch up, seed the tally
//	c.SendMessage(ctx, convID, "hi @bob", "")
//
//	for env := range c.Events() {
//	    switch env.Event {
//	    case protocol.EventReceiveMessage:
//	    case protocol.EventGroupCreated:
//	    case protocol.EventDeliveryFailed:
//	    }
//	}
//
// Every receiveMessage also advances Tally() for conversations the caller
// has not marked open.
package client
