// Package audit delivers security events to a Sink off the caller's goroutine.
//
// [Dispatcher] buffers [Event] values and hands them to the sink from one goroutine, in
// emission order. With DropIfFull a full buffer drops and counts; otherwise Emit blocks
// until there is room or the caller's context ends.
//
// Which events exist is decided by the engine and the flows, not here.
//
// # What this package must NOT do
//
//   - Filter events.
//   - Import authcore or any sibling internal package.
package audit
