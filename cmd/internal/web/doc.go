// Package web serves secretwall's HTML pages, form posts and the Google
// handshake endpoints.
//
// Handlers expect session.Manager.Middleware to have run; Register wires it
// around every session-aware route.
package web
