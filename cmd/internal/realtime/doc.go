// Package realtime pushes newly submitted secrets to everyone watching the wall.
//
// Authenticated browsers connect to the Gateway over WebSocket
// (subprotocol "secretwall.wall.v1") and receive one Envelope per accepted
// submission. The feed is server-push only; any data frame from a client
// closes the connection.
package realtime
