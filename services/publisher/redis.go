package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"offerworker/internal/offer"
	"offerworker/logger"
	"offerworker/pkg/errors"
)

// offerEvent is the stream payload for one offer
type offerEvent struct {
	Kind               string   `json:"kind"`
	ASIN               string   `json:"asin,omitempty"`
	ProductName        string   `json:"product_name"`
	AffiliateURL       string   `json:"affiliate_url"`
	ImageURL           string   `json:"image_url,omitempty"`
	ListPrice          *float64 `json:"list_price,omitempty"`
	SalePrice          *float64 `json:"sale_price,omitempty"`
	DiscountPercentage *int     `json:"discount_percentage,omitempty"`
	PromotionText      string   `json:"promotion_text,omitempty"`
	Category           string   `json:"category,omitempty"`
}

// RedisPublisher publishes offer events to a Redis stream
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	log    *logger.Logger
}

// NewRedisPublisher creates a publisher on the given stream. The stream is
// trimmed approximately to maxLen entries on every publish.
func NewRedisPublisher(ctx context.Context, addr string, db int, stream string, maxLen int64) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.New(errors.ErrorTypePublisher, "redis", "connect", err)
	}

	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		log:    logger.ForPublisher(),
	}, nil
}

// PublishOffer emits one offer event to the stream
func (p *RedisPublisher) PublishOffer(ctx context.Context, kind string, o *offer.Offer) error {
	payload, err := json.Marshal(offerEvent{
		Kind:               kind,
		ASIN:               o.ASIN,
		ProductName:        o.ProductName,
		AffiliateURL:       o.AffiliateURL,
		ImageURL:           o.ImageURL,
		ListPrice:          o.ListPrice,
		SalePrice:          o.SalePrice,
		DiscountPercentage: o.DiscountPercentage,
		PromotionText:      o.PromotionText,
		Category:           o.Category,
	})
	if err != nil {
		return errors.New(errors.ErrorTypePublisher, "redis", "marshal offer event", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"offer": payload},
	}).Err()
	if err != nil {
		return errors.New(errors.ErrorTypePublisher, "redis", "publish offer event", err)
	}

	p.log.Debug().Str("kind", kind).Str("asin", o.ASIN).Msg("Offer event published")
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher swallows events when no publisher endpoint is configured
type NopPublisher struct{}

func (NopPublisher) PublishOffer(context.Context, string, *offer.Offer) error { return nil }
func (NopPublisher) Close() error                                            { return nil }
