// Package dispatch posts resolved announcements to the chat channel.
//
// The dispatcher knows nothing about the reservation ledger; the send
// pipeline owns that ordering (reserve, post, roll back on failure).
package dispatch

import "context"

// Dispatcher is the delivery contract. Each call is independent: no
// batching, no retry. Errors carry the transport's detail as opaque text
// for the operator.
type Dispatcher interface {
	Post(ctx context.Context, channelID int64, text string) error
	PostWithImage(ctx context.Context, channelID int64, text string, image []byte, filename string) error
}

// UploadConfirmer is optionally implemented by dispatchers that can probe
// whether the last upload became visible in the channel.
type UploadConfirmer interface {
	ConfirmUpload(ctx context.Context) (bool, error)
}
