package publisher

import (
	"context"

	"offerworker/internal/offer"
)

// Event kinds published to the offer stream
const (
	EventInserted  = "inserted"
	EventReoffered = "reoffered"
)

// Publisher emits offer events for downstream senders
type Publisher interface {
	// PublishOffer emits one offer event of the given kind
	PublishOffer(ctx context.Context, kind string, o *offer.Offer) error

	// Close releases the publisher resources
	Close() error
}
