// Package server exposes the push channel and the request/response routes.
//
// The websocket route admits viewers through ConnectionLimits, hands them
// to the broadcaster and reads their command frames. Every command runs on
// its own goroutine and its single reply goes back to the sender only.
package server
