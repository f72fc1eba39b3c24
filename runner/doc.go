// Package runner executes one conversation turn end to end.
//
// For every inbound chat message the Runner validates the request context,
// loads the conversation and its active agent, runs the turn executor while
// a status reporter follows the turn's events, writes every frame to the
// client sink, and, however the turn ends, reconciles open delegation tasks
// and terminates the stream with a done frame (preceded by an error frame
// when the turn failed).
//
// The Runner also serves delegated sub-turns: HandleDelegation is the A2A
// handler behind the in-process transport and the HTTP A2A endpoint.
//
// # Responsibilities (abridged)
//   - Turn lifecycle management & cooperative cancellation (Cancel)
//   - Status update reporting alongside the executor
//   - Task reconciliation when a turn ends
//   - Error mapping onto terminal stream frames
package runner
