// Package store persists offers in SQLite and owns the deduplication and
// re-offer policy: one row per identity key, with channel statuses reset
// when a known product comes back cheaper or after a quiet period.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"offerworker/internal/offer"
	"offerworker/logger"
	"offerworker/pkg/errors"
)

// Outcome classifies what an upsert did to the row
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
)

// UpsertResult reports the effect of one upsert
type UpsertResult struct {
	Outcome Outcome
	// Reoffered is true when an existing row had its channel statuses
	// reset because the price changed or the record went stale
	Reoffered bool
	// Reason explains a skip
	Reason string
	ID     int64
}

const schema = `
CREATE TABLE IF NOT EXISTS offers (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_key        TEXT    NOT NULL UNIQUE,
	asin                TEXT    NOT NULL DEFAULT '',
	product_name        TEXT    NOT NULL,
	original_url        TEXT    NOT NULL,
	affiliate_url       TEXT    NOT NULL,
	image_url           TEXT    NOT NULL DEFAULT '',
	list_price          REAL,
	sale_price          REAL,
	discount_percentage INTEGER,
	has_coupon          INTEGER NOT NULL DEFAULT 0,
	coupon_code         TEXT    NOT NULL DEFAULT '',
	coupon_discount     TEXT    NOT NULL DEFAULT '',
	promotion_text      TEXT    NOT NULL DEFAULT '',
	prime_eligible      INTEGER NOT NULL DEFAULT 0,
	rating              REAL,
	review_count        INTEGER,
	shipping_info       TEXT    NOT NULL DEFAULT '',
	installment_info    TEXT    NOT NULL DEFAULT '',
	category            TEXT    NOT NULL DEFAULT '',
	source_url          TEXT    NOT NULL DEFAULT '',
	scrape_type         TEXT    NOT NULL DEFAULT '',
	status_telegram     TEXT    NOT NULL DEFAULT 'new',
	status_whatsapp     TEXT    NOT NULL DEFAULT 'new',
	status_tiktok       TEXT    NOT NULL DEFAULT 'new',
	sent_at_telegram    TIMESTAMP,
	sent_at_whatsapp    TIMESTAMP,
	sent_at_tiktok      TIMESTAMP,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offers_pending_telegram ON offers(updated_at) WHERE status_telegram = 'new';
CREATE INDEX IF NOT EXISTS idx_offers_pending_whatsapp ON offers(updated_at) WHERE status_whatsapp = 'new';
CREATE INDEX IF NOT EXISTS idx_offers_pending_tiktok   ON offers(updated_at) WHERE status_tiktok   = 'new';
`

// OfferRepository is the SQLite-backed offer store
type OfferRepository struct {
	db           *sql.DB
	reofferAfter time.Duration
	log          *logger.Logger

	// nowFunc is replaceable in tests
	nowFunc func() time.Time
}

// NewOfferRepository opens (or creates) the database at path and applies
// the schema. A failure here is fatal for the run.
func NewOfferRepository(path string, reofferAfter time.Duration) (*OfferRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, errors.NewDatabase("open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewDatabase("ping database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewDatabase("apply schema", err)
	}

	return &OfferRepository{
		db:           db,
		reofferAfter: reofferAfter,
		log:          logger.ForStore(),
		nowFunc:      time.Now,
	}, nil
}

// Close releases the database handle
func (r *OfferRepository) Close() error {
	return r.db.Close()
}

// Upsert inserts a new offer or applies the re-offer policy to an existing
// row with the same identity key:
//
//   - no existing row: insert with all channel statuses 'new'
//   - price changed, or the row is older than the re-offer window: rewrite
//     the row, reset every channel status to 'new' and clear sent times
//   - otherwise: refresh only the descriptive fields (category, rating,
//     review count) and leave statuses and updated_at untouched
//
// Records that fail validation are skipped, never stored.
func (r *OfferRepository) Upsert(ctx context.Context, rec *offer.Offer) (UpsertResult, error) {
	if reason := validate(rec); reason != "" {
		r.log.Warn().Str("url", rec.OriginalURL).Str("reason", reason).Msg("Offer skipped")
		return UpsertResult{Outcome: OutcomeSkipped, Reason: reason}, nil
	}

	key := rec.IdentityKey()
	now := r.nowFunc()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, errors.NewDatabase("begin transaction", err)
	}
	defer tx.Rollback()

	existing, err := r.findByKey(ctx, tx, key)
	if err != nil {
		return UpsertResult{}, err
	}

	var res UpsertResult
	if existing == nil {
		res, err = r.insert(ctx, tx, key, rec, now)
		if err != nil && isUniqueViolation(err) {
			// Lost an insert race; reload and take the update path.
			if existing, err = r.findByKey(ctx, tx, key); err != nil {
				return UpsertResult{}, err
			}
		} else if err != nil {
			return UpsertResult{}, err
		}
	}
	if existing != nil {
		res, err = r.update(ctx, tx, existing, rec, now)
		if err != nil {
			return UpsertResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, errors.NewDatabase("commit transaction", err)
	}
	return res, nil
}

func (r *OfferRepository) insert(ctx context.Context, tx *sql.Tx, key string, rec *offer.Offer, now time.Time) (UpsertResult, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO offers (
			identity_key, asin, product_name, original_url, affiliate_url, image_url,
			list_price, sale_price, discount_percentage,
			has_coupon, coupon_code, coupon_discount, promotion_text, prime_eligible,
			rating, review_count, shipping_info, installment_info,
			category, source_url, scrape_type,
			status_telegram, status_whatsapp, status_tiktok,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'new', 'new', 'new', ?, ?)`,
		key, rec.ASIN, rec.ProductName, rec.OriginalURL, rec.AffiliateURL, rec.ImageURL,
		nullFloat(rec.ListPrice), nullFloat(rec.SalePrice), nullInt(rec.DiscountPercentage),
		rec.HasCoupon, rec.CouponCode, rec.CouponDiscount, rec.PromotionText, rec.PrimeEligible,
		nullFloat(rec.Rating), nullInt(rec.ReviewCount), rec.ShippingInfo, rec.InstallmentInfo,
		rec.Category, rec.SourceURL, rec.ScrapeType,
		now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return UpsertResult{}, err
		}
		return UpsertResult{}, errors.NewDatabase("insert offer", err)
	}

	id, _ := result.LastInsertId()
	r.log.Debug().Str("key", key).Int64("id", id).Msg("Offer inserted")
	return UpsertResult{Outcome: OutcomeInserted, ID: id}, nil
}

// update applies the re-offer decision against the stored row
func (r *OfferRepository) update(ctx context.Context, tx *sql.Tx, existing *offer.Offer, rec *offer.Offer, now time.Time) (UpsertResult, error) {
	priceChanged := !offer.FloatsEqual(existing.SalePrice, rec.SalePrice) ||
		!offer.FloatsEqual(existing.ListPrice, rec.ListPrice)
	stale := now.Sub(existing.UpdatedAt) >= r.reofferAfter

	if !priceChanged && !stale {
		// Fresh and unchanged: refresh descriptive fields only. Statuses,
		// sent times and updated_at keep their values so pending sends
		// are not disturbed.
		_, err := tx.ExecContext(ctx, `
			UPDATE offers SET category = ?, rating = ?, review_count = ?
			WHERE id = ?`,
			rec.Category, nullFloat(rec.Rating), nullInt(rec.ReviewCount), existing.ID)
		if err != nil {
			return UpsertResult{}, errors.NewDatabase("refresh offer", err)
		}
		return UpsertResult{Outcome: OutcomeUpdated, ID: existing.ID}, nil
	}

	rec.RecomputeDiscount()
	_, err := tx.ExecContext(ctx, `
		UPDATE offers SET
			asin = ?, product_name = ?, original_url = ?, affiliate_url = ?, image_url = ?,
			list_price = ?, sale_price = ?, discount_percentage = ?,
			has_coupon = ?, coupon_code = ?, coupon_discount = ?, promotion_text = ?, prime_eligible = ?,
			rating = ?, review_count = ?, shipping_info = ?, installment_info = ?,
			category = ?, source_url = ?, scrape_type = ?,
			status_telegram = 'new', status_whatsapp = 'new', status_tiktok = 'new',
			sent_at_telegram = NULL, sent_at_whatsapp = NULL, sent_at_tiktok = NULL,
			updated_at = ?
		WHERE id = ?`,
		rec.ASIN, rec.ProductName, rec.OriginalURL, rec.AffiliateURL, rec.ImageURL,
		nullFloat(rec.ListPrice), nullFloat(rec.SalePrice), nullInt(rec.DiscountPercentage),
		rec.HasCoupon, rec.CouponCode, rec.CouponDiscount, rec.PromotionText, rec.PrimeEligible,
		nullFloat(rec.Rating), nullInt(rec.ReviewCount), rec.ShippingInfo, rec.InstallmentInfo,
		rec.Category, rec.SourceURL, rec.ScrapeType,
		now, existing.ID)
	if err != nil {
		return UpsertResult{}, errors.NewDatabase("re-offer update", err)
	}

	r.log.Debug().
		Str("key", existing.IdentityKey()).
		Bool("price_changed", priceChanged).
		Bool("stale", stale).
		Msg("Offer re-offered")
	return UpsertResult{Outcome: OutcomeUpdated, Reoffered: true, ID: existing.ID}, nil
}

// PendingForChannel returns up to limit offers waiting to be sent on the
// given channel, newest first.
func (r *OfferRepository) PendingForChannel(ctx context.Context, channel string, limit int) ([]offer.Offer, error) {
	col, err := statusColumn(channel)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM offers WHERE %s = 'new'
		ORDER BY updated_at DESC LIMIT ?`, selectColumns, col), limit)
	if err != nil {
		return nil, errors.NewDatabase("query pending offers", err)
	}
	defer rows.Close()

	var out []offer.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabase("iterate pending offers", err)
	}
	return out, nil
}

// MarkSent records a successful send on one channel
func (r *OfferRepository) MarkSent(ctx context.Context, id int64, channel string) error {
	return r.markStatus(ctx, id, channel, offer.StatusSent, true)
}

// MarkError records a failed send on one channel
func (r *OfferRepository) MarkError(ctx context.Context, id int64, channel string) error {
	return r.markStatus(ctx, id, channel, offer.StatusError, false)
}

func (r *OfferRepository) markStatus(ctx context.Context, id int64, channel string, status offer.Status, stampSentAt bool) error {
	col, err := statusColumn(channel)
	if err != nil {
		return err
	}

	var res sql.Result
	if stampSentAt {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE offers SET %s = ?, sent_at_%s = ? WHERE id = ?`, col, channel),
			string(status), r.nowFunc(), id)
	} else {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE offers SET %s = ? WHERE id = ?`, col),
			string(status), id)
	}
	if err != nil {
		return errors.NewDatabase("mark offer status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewDatabase(fmt.Sprintf("offer %d not found", id), nil)
	}
	return nil
}

// FindByKey returns the offer with the given identity key, or nil
func (r *OfferRepository) FindByKey(ctx context.Context, key string) (*offer.Offer, error) {
	return r.findByKey(ctx, r.db, key)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *OfferRepository) findByKey(ctx context.Context, q querier, key string) (*offer.Offer, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM offers WHERE identity_key = ?`, selectColumns), key)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// validate rejects records that must never reach the database
func validate(rec *offer.Offer) string {
	switch {
	case rec.ProductName == "":
		return "missing product name"
	case rec.OriginalURL == "":
		return "missing original URL"
	case rec.SalePrice == nil:
		return "missing sale price"
	case !strings.HasPrefix(rec.AffiliateURL, "http://") && !strings.HasPrefix(rec.AffiliateURL, "https://"):
		return "affiliate URL is not a link"
	}
	lower := strings.ToLower(rec.AffiliateURL)
	for _, marker := range []string{"⚠", "❌", "erro", "não é permitido", "indisponível"} {
		if strings.Contains(lower, marker) {
			return "affiliate URL carries an error message"
		}
	}
	return ""
}

func statusColumn(channel string) (string, error) {
	for _, c := range offer.Channels {
		if c == channel {
			return "status_" + channel, nil
		}
	}
	return "", errors.NewValidation("store", fmt.Sprintf("unknown channel %q", channel))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const selectColumns = `
	id, asin, product_name, original_url, affiliate_url, image_url,
	list_price, sale_price, discount_percentage,
	has_coupon, coupon_code, coupon_discount, promotion_text, prime_eligible,
	rating, review_count, shipping_info, installment_info,
	category, source_url, scrape_type,
	status_telegram, status_whatsapp, status_tiktok,
	sent_at_telegram, sent_at_whatsapp, sent_at_tiktok,
	created_at, updated_at`

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*offer.Offer, error) {
	var (
		o           offer.Offer
		listPrice   sql.NullFloat64
		salePrice   sql.NullFloat64
		discount    sql.NullInt64
		rating      sql.NullFloat64
		reviewCount sql.NullInt64
		sentTg      sql.NullTime
		sentWa      sql.NullTime
		sentTk      sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.ASIN, &o.ProductName, &o.OriginalURL, &o.AffiliateURL, &o.ImageURL,
		&listPrice, &salePrice, &discount,
		&o.HasCoupon, &o.CouponCode, &o.CouponDiscount, &o.PromotionText, &o.PrimeEligible,
		&rating, &reviewCount, &o.ShippingInfo, &o.InstallmentInfo,
		&o.Category, &o.SourceURL, &o.ScrapeType,
		&o.StatusTelegram, &o.StatusWhatsapp, &o.StatusTiktok,
		&sentTg, &sentWa, &sentTk,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.NewDatabase("scan offer row", err)
	}

	if listPrice.Valid {
		o.ListPrice = &listPrice.Float64
	}
	if salePrice.Valid {
		o.SalePrice = &salePrice.Float64
	}
	if discount.Valid {
		v := int(discount.Int64)
		o.DiscountPercentage = &v
	}
	if rating.Valid {
		o.Rating = &rating.Float64
	}
	if reviewCount.Valid {
		v := int(reviewCount.Int64)
		o.ReviewCount = &v
	}
	if sentTg.Valid {
		o.SentAtTelegram = &sentTg.Time
	}
	if sentWa.Valid {
		o.SentAtWhatsapp = &sentWa.Time
	}
	if sentTk.Valid {
		o.SentAtTiktok = &sentTk.Time
	}
	return &o, nil
}
