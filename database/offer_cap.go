package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// IncrementOfferCap bumps the daily counter for an offer. The upsert keeps
// it a single atomic statement under concurrent postbacks.
func (d Datasource) IncrementOfferCap(ctx context.Context, offerID string, day time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO offer_caps (offer_id, day, count) VALUES ($1, $2, 1)
		ON CONFLICT (offer_id, day) DO UPDATE SET count = offer_caps.count + 1
	`, offerID, day.Format("2006-01-02"))
	return errors.Wrap(err, "incrementing offer cap")
}

// DecrementOfferCap releases a cap slot when a counted conversion is
// rejected. Floored at zero; a missing row is left missing.
func (d Datasource) DecrementOfferCap(ctx context.Context, offerID string, day time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE offer_caps SET count = GREATEST(count - 1, 0)
		WHERE offer_id = $1 AND day = $2
	`, offerID, day.Format("2006-01-02"))
	return errors.Wrap(err, "decrementing offer cap")
}

// GetOfferCapCount returns the day's counter, zero when no row exists yet.
func (d Datasource) GetOfferCapCount(ctx context.Context, offerID string, day time.Time) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT count FROM offer_caps WHERE offer_id = $1 AND day = $2
	`, offerID, day.Format("2006-01-02")).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "fetching offer cap count")
	}
	return count, nil
}
