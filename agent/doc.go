// Package agent holds the runtime form of the agents declared in a graph: the
// model each agent talks to, its instructions and its function tools.
//
// Orchestration tools (transfer and delegation) are not stored on the agent;
// the turn executor derives them from the graph's adjacency on every step.
package agent
