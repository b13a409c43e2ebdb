// Package realtime defines the contract between the gateway and a realtime
// agent runtime.
//
// A Runtime opens one Session per connected client. The session accepts raw
// little-endian PCM audio and produces a stream of typed events:
//
//	client audio → SendAudio → runtime
//	runtime → Next → Event → serializer → client
//
// # Events
//
// Event is a closed sum type. Every variant implements Accept, which calls the
// matching method on an EventVisitor. Consumers that must handle every variant
// (the wire serializer in particular) implement EventVisitor, so adding a
// variant without handling it is a compile error rather than a silently
// dropped message.
//
// # Streams
//
// Providers usually expose a blocking receive call. Stream adapts such a call
// into a cancellable Next: a reader goroutine hands events over a single-slot
// channel, and cancelling the caller's context interrupts the wait.
package realtime
