// Package testutil contains helpers shared by tests: a scripted model that
// replays canned responses and records every request, and a fluent builder
// for agent graphs. They are not intended for production usage.
package testutil
