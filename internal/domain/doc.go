// Package domain defines the core domain types and interfaces.
//
// Channels, readings, push-channel events and the narrow interfaces the
// components use to reach each other (ReadingSource, Publisher). No
// implementation code - just contracts, kept on the consumer side to prevent
// circular imports.
package domain
