// Package protocol defines the JSON frames exchanged over the /ws channel.
//
// Every frame is an Envelope:
//
//	{"event": "sendMessage", "data": {"senderId": "...", "conversationId": "...", "text": "hi"}}
//
// Client payloads are validated on Decode with go-playground/validator, so
// handlers only see structurally complete requests.
package protocol
