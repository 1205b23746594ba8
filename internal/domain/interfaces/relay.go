package interfaces

import (
	"context"

	domaintypes "pinpoint/internal/domain/types"
)

// KeyBackend fetches a peer's published handshake keys.
type KeyBackend interface {
	GetUserKeys(ctx context.Context, userID domaintypes.UserID) (domaintypes.PublicKeyBundle, error)
}

// RelayClient is how we talk to the relay server, all with context.
type RelayClient interface {
	KeyBackend

	PublishUserKeys(ctx context.Context, userID domaintypes.UserID, keys domaintypes.UserPublicKeys) error

	SendEnvelope(ctx context.Context, envelope domaintypes.Envelope) error
	FetchEnvelopes(ctx context.Context, userID domaintypes.UserID, limit int) ([]domaintypes.Envelope, error)
	AckEnvelopes(ctx context.Context, userID domaintypes.UserID, count int) error
}
