// Package core provides the foundational domain types, store interfaces and
// execution contexts of the turn runtime:
//
//   - Conversations, messages and delegation tasks (with their legal status
//     transitions)
//   - Role based Content made of a closed set of Parts
//   - Events appended to a per-turn EventLog
//   - TurnContext / ToolContext (scoped execution and tool sandboxing)
//   - The error taxonomy shared by every component
//
// Implementation concerns (persistence backends, model providers, the turn
// loop) live in their own packages and depend on the small interfaces here.
package core
