package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-buyback/internal/catalog"
	"github.com/noah-isme/backend-buyback/internal/db"
	"github.com/noah-isme/backend-buyback/internal/obs"
)

const upsertProductSQL = `INSERT INTO buyback_products (market, id, code, name, base_price, image_url, active, sort_order)
VALUES ($1, $2, $3, $4, $5::numeric, $6, TRUE, $7)
ON CONFLICT (market, id) DO UPDATE SET
    code = EXCLUDED.code,
    name = EXCLUDED.name,
    base_price = EXCLUDED.base_price,
    image_url = EXCLUDED.image_url,
    active = TRUE,
    sort_order = EXCLUDED.sort_order`

// Seeds buyback_products from the embedded catalog so the postgres catalog
// source starts with the same products as the static one.
func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL"))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if err := db.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := db.Connect(ctx, dbURL, "buyback-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	seed, err := catalog.Seed()
	if err != nil {
		logger.Fatal().Err(err).Msg("load catalog seed")
	}

	batch := &pgx.Batch{}
	for _, market := range seed.Markets() {
		products, err := seed.Products(ctx, market)
		if err != nil {
			logger.Fatal().Err(err).Str("market", market).Msg("read seed products")
		}
		for i, p := range products {
			batch.Queue(upsertProductSQL, market, p.ID, p.Code, p.Name, p.BasePrice.String(), p.ImageURL, i)
		}
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		logger.Fatal().Err(err).Msg("seed products")
	}
	logger.Info().Int("products", batch.Len()).Msg("catalog seeded")
}
