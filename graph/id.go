package graph

import "github.com/google/uuid"

// newID generates the internal id used for auto-created rows (the
// main branch created alongside a chat). Caller-supplied ids (chats,
// messages, user-named branches/checkpoints) are opaque strings the
// store never generates itself.
func newID() string {
	return uuid.NewString()
}
