package types

// Action identifies what a synchronization event asks other processes to do.
type Action string

const (
	// Invalidate drops a single key from the receiver's local cache.
	Invalidate Action = "invalidate"
	// Delete is published when the key was removed from the remote store.
	Delete Action = "delete"
	// Clear drops every entry from the receiver's local cache.
	Clear Action = "clear"
)

// InvalidationEvent represents a local cache synchronization event.
// Events never carry values: a receiver always re-reads the remote store.
type InvalidationEvent struct {
	Keys   []string `json:"keys"`
	Sender string   `json:"sender"`
	Action Action   `json:"action"`
}
