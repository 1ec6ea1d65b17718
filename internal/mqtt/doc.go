// Package mqtt implements the transport subscriber on top of the Eclipse
// Paho client.
//
// One long-lived broker session: inbound sensor topics are written verbatim
// into the latest-value store, and the same session carries outbound display
// commands. Paho owns reconnection; the subscriber only observes and logs
// connection state and re-subscribes on every (re)connect.
package mqtt
