// Package dedupe remembers recently applied client message IDs so a client
// that resends after a reconnect does not append the same message twice.
package dedupe
