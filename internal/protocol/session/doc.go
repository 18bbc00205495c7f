// Package session drives one encrypted doorbell conversation.
//
// A Session owns a channel.Handle between Start and Stop and runs a single
// drive goroutine per run. That goroutine is the only caller of Update and
// Receive and the only user of the frame buffer:
//
//	tick: Update(now) -> Receive()* -> Append -> Frames() -> OpenRecord -> Records()
//
// Frame and channel faults are reported through logging, metrics and
// Config.OnError; they never stop the loop. Only Stop ends a run.
//
// Send may be called from any goroutine while Running.
package session
