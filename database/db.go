package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and
// initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache initialization error: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	for _, create := range []func(*sql.DB) error{
		createAdvertiserTable,
		createOfferTable,
		createLandingTable,
		createClickTable,
		createBalanceTable,
		createConversionTable,
		createWebhookTable,
		createPlatformWebhookTable,
		createDeliveryLogTable,
		createOfferCapTable,
	} {
		if err := create(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// createConversionTable creates a PostgreSQL table for the Conversion struct.
// external_id is indexed but deliberately not unique: dedup-by-externalId is
// an open question for the reporting callers, not a storage constraint.
func createConversionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversions (
			id SERIAL PRIMARY KEY,
			conversion_id TEXT NOT NULL UNIQUE,
			click_id TEXT NOT NULL,
			offer_id TEXT NOT NULL REFERENCES offers(offer_id),
			publisher_id TEXT NOT NULL,
			advertiser_id TEXT NOT NULL REFERENCES advertisers(advertiser_id),
			type TEXT NOT NULL,
			advertiser_cost NUMERIC(24, 6) NOT NULL DEFAULT 0 CHECK (advertiser_cost >= 0),
			publisher_payout NUMERIC(24, 6) NOT NULL DEFAULT 0 CHECK (publisher_payout >= 0),
			currency TEXT NOT NULL DEFAULT 'USD',
			status TEXT NOT NULL,
			hold_until TIMESTAMP,
			rejection_reason TEXT,
			external_id TEXT,
			suspected_fraud BOOLEAN NOT NULL DEFAULT FALSE,
			fraud_reason TEXT,
			cap_counted BOOLEAN NOT NULL DEFAULT FALSE,
			geo TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			approved_at TIMESTAMP,
			rejected_at TIMESTAMP,
			meta_data JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_conversions_external_id ON conversions(external_id);
		CREATE INDEX IF NOT EXISTS idx_conversions_click_id ON conversions(click_id)
	`)
	return err
}

// createBalanceTable creates a PostgreSQL table for the Balance struct.
func createBalanceTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS balances (
			id SERIAL PRIMARY KEY,
			balance_id TEXT NOT NULL UNIQUE,
			publisher_id TEXT NOT NULL,
			advertiser_id TEXT NOT NULL,
			available NUMERIC(24, 6) NOT NULL DEFAULT 0 CHECK (available >= 0),
			hold NUMERIC(24, 6) NOT NULL DEFAULT 0 CHECK (hold >= 0),
			pending NUMERIC(24, 6) NOT NULL DEFAULT 0 CHECK (pending >= 0),
			currency TEXT NOT NULL DEFAULT 'USD',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (publisher_id, advertiser_id)
		)
	`)
	return err
}

func createClickTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clicks (
			id SERIAL PRIMARY KEY,
			click_id TEXT NOT NULL UNIQUE,
			offer_id TEXT NOT NULL REFERENCES offers(offer_id),
			landing_id TEXT,
			publisher_id TEXT NOT NULL,
			advertiser_id TEXT NOT NULL REFERENCES advertisers(advertiser_id),
			geo TEXT,
			antifraud_action TEXT NOT NULL DEFAULT 'allow',
			fraud_reason TEXT,
			sub_ids JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createOfferTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS offers (
			id SERIAL PRIMARY KEY,
			offer_id TEXT NOT NULL UNIQUE,
			advertiser_id TEXT NOT NULL REFERENCES advertisers(advertiser_id),
			name TEXT NOT NULL,
			payout_model TEXT NOT NULL,
			cost NUMERIC(24, 6) NOT NULL DEFAULT 0,
			payout NUMERIC(24, 6) NOT NULL DEFAULT 0,
			rev_share_percent NUMERIC(8, 4) NOT NULL DEFAULT 0,
			hold_period_days INT,
			currency TEXT NOT NULL DEFAULT 'USD',
			caps_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			daily_cap INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createLandingTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS landings (
			id SERIAL PRIMARY KEY,
			landing_id TEXT NOT NULL UNIQUE,
			offer_id TEXT NOT NULL REFERENCES offers(offer_id),
			url TEXT NOT NULL,
			cost NUMERIC(24, 6),
			payout NUMERIC(24, 6),
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createAdvertiserTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS advertisers (
			id SERIAL PRIMARY KEY,
			advertiser_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			default_hold_period_days INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createWebhookTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhooks (
			id SERIAL PRIMARY KEY,
			webhook_id TEXT NOT NULL UNIQUE,
			advertiser_id TEXT NOT NULL REFERENCES advertisers(advertiser_id),
			url TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT 'POST',
			events TEXT[] NOT NULL DEFAULT '{}',
			offer_ids TEXT[] NOT NULL DEFAULT '{}',
			publisher_ids TEXT[] NOT NULL DEFAULT '{}',
			secret TEXT,
			headers JSONB,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			failure_count INT NOT NULL DEFAULT 0,
			last_error TEXT,
			last_triggered_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createPlatformWebhookTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS platform_webhooks (
			id SERIAL PRIMARY KEY,
			webhook_id TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			events TEXT[] NOT NULL DEFAULT '{}',
			secret TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			failure_count INT NOT NULL DEFAULT 0,
			last_error TEXT,
			last_sent_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createDeliveryLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_logs (
			id SERIAL PRIMARY KEY,
			delivery_id TEXT NOT NULL UNIQUE,
			webhook_id TEXT NOT NULL,
			event TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL,
			http_status INT,
			response_body TEXT,
			attempt INT NOT NULL,
			next_retry_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_delivery_logs_webhook_id ON delivery_logs(webhook_id)
	`)
	return err
}

func createOfferCapTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS offer_caps (
			id SERIAL PRIMARY KEY,
			offer_id TEXT NOT NULL REFERENCES offers(offer_id),
			day DATE NOT NULL,
			count INT NOT NULL DEFAULT 0,
			UNIQUE (offer_id, day)
		)
	`)
	return err
}
