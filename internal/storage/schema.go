package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Row models exist only to describe the schema to AutoMigrate. Reads and
// writes go through the pgx repositories.

type underlyingQuoteRow struct {
	Symbol     string    `gorm:"primaryKey;type:varchar(16)"`
	Timestamp  time.Time `gorm:"primaryKey;type:timestamptz"`
	Open       float64   `gorm:"type:double precision;not null"`
	High       float64   `gorm:"type:double precision;not null"`
	Low        float64   `gorm:"type:double precision;not null"`
	Close      float64   `gorm:"type:double precision;not null"`
	UpVolume   int64     `gorm:"not null;default:0"`
	DownVolume int64     `gorm:"not null;default:0"`
}

func (underlyingQuoteRow) TableName() string { return "underlying_quotes" }

type optionChainRow struct {
	OptionSymbol      string    `gorm:"primaryKey;type:varchar(32)"`
	Timestamp         time.Time `gorm:"primaryKey;type:timestamptz;index:idx_option_chains_underlying_ts,priority:2"`
	Underlying        string    `gorm:"type:varchar(16);not null;index:idx_option_chains_underlying_ts,priority:1"`
	Strike            float64   `gorm:"type:double precision;not null"`
	Expiration        time.Time `gorm:"type:date;not null"`
	OptionType        string    `gorm:"type:char(1);not null"`
	Last              float64   `gorm:"type:double precision"`
	Bid               float64   `gorm:"type:double precision"`
	Ask               float64   `gorm:"type:double precision"`
	Volume            int64     `gorm:"not null;default:0"`
	OpenInterest      int64     `gorm:"not null;default:0"`
	ImpliedVolatility *float64  `gorm:"type:double precision"`
	Delta             *float64  `gorm:"type:double precision"`
	Gamma             *float64  `gorm:"type:double precision"`
	Theta             *float64  `gorm:"type:double precision"`
	Vega              *float64  `gorm:"type:double precision"`
}

func (optionChainRow) TableName() string { return "option_chains" }

type gexByStrikeRow struct {
	Underlying    string    `gorm:"primaryKey;type:varchar(16)"`
	Timestamp     time.Time `gorm:"primaryKey;type:timestamptz"`
	Strike        float64   `gorm:"primaryKey;type:double precision"`
	Expiration    time.Time `gorm:"primaryKey;type:date"`
	TotalGamma    float64   `gorm:"type:double precision"`
	CallGamma     float64   `gorm:"type:double precision"`
	PutGamma      float64   `gorm:"type:double precision"`
	NetGex        float64   `gorm:"type:double precision"`
	CallVolume    int64
	PutVolume     int64
	CallOI        int64 `gorm:"column:call_oi"`
	PutOI         int64 `gorm:"column:put_oi"`
	VannaExposure float64 `gorm:"type:double precision"`
	CharmExposure float64 `gorm:"type:double precision"`
}

func (gexByStrikeRow) TableName() string { return "gex_by_strike" }

type gexSummaryRow struct {
	Underlying      string    `gorm:"primaryKey;type:varchar(16)"`
	Timestamp       time.Time `gorm:"primaryKey;type:timestamptz"`
	UnderlyingPrice float64   `gorm:"type:double precision"`
	MaxGammaStrike  float64   `gorm:"type:double precision"`
	MaxGammaValue   float64   `gorm:"type:double precision"`
	GammaFlipPoint  *float64  `gorm:"type:double precision"`
	PutCallRatio    float64   `gorm:"type:double precision"`
	MaxPain         float64   `gorm:"type:double precision"`
	TotalCallVolume int64
	TotalPutVolume  int64
	TotalCallOI     int64   `gorm:"column:total_call_oi"`
	TotalPutOI      int64   `gorm:"column:total_put_oi"`
	TotalNetGex     float64 `gorm:"type:double precision"`
}

func (gexSummaryRow) TableName() string { return "gex_summary" }

// Migrate creates or updates the four tables with their natural-key
// primary keys.
func Migrate(ctx context.Context, dsn string) error {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := db.WithContext(ctx).AutoMigrate(
		&underlyingQuoteRow{},
		&optionChainRow{},
		&gexByStrikeRow{},
		&gexSummaryRow{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
