// Package realtime fans persisted messages and presence changes out to live
// connections.
//
// A Session is the per-connection state machine and outbound queue. The
// Directory records which connections are subscribed to which topics. The
// Dispatcher derives topics for an event, takes a consistent snapshot of
// their subscribers and enqueues one serialized frame per subscriber. It
// never writes to a transport itself: each connection has exactly one
// consumer that drains its Session.
package realtime
