// Package observability records cw activity in .context-weave/events.jsonl
// and derives metrics and alerts from it on demand.
package observability
