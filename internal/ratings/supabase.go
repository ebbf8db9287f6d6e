package ratings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SupabaseConfig addresses a Supabase project's REST endpoint.
type SupabaseConfig struct {
	URL       string
	Key       string
	Table     string
	BatchSize int
	Timeout   time.Duration
}

// SupabaseUpserter posts rating rows to the PostgREST API with
// merge-duplicates resolution.
type SupabaseUpserter struct {
	client    *resty.Client
	table     string
	batchSize int
	logger    *zap.Logger
}

// NewSupabase builds a REST upserter.
func NewSupabase(cfg SupabaseConfig, logger *zap.Logger) (*SupabaseUpserter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("ratings.supabase_url is required")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("ratings.supabase_key is required")
	}
	table, err := checkTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("apikey", cfg.Key).
		SetAuthToken(cfg.Key).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "resolution=merge-duplicates")
	return &SupabaseUpserter{client: client, table: table, batchSize: cfg.BatchSize, logger: logger}, nil
}

// Close is a no-op; the HTTP client holds no long-lived resources.
func (u *SupabaseUpserter) Close() {}

// Upsert posts rows in batches, stopping at the first failed batch.
func (u *SupabaseUpserter) Upsert(ctx context.Context, rows []Row) error {
	if err := validate(rows); err != nil {
		return err
	}
	batches := Batches(rows, u.batchSize)
	for i, batch := range batches {
		resp, err := u.client.R().
			SetContext(ctx).
			SetBody(batch).
			Post("/rest/v1/" + u.table)
		if err != nil {
			return fmt.Errorf("upsert batch %d/%d: %w", i+1, len(batches), err)
		}
		if resp.IsError() {
			return fmt.Errorf("upsert batch %d/%d: status %d: %s", i+1, len(batches), resp.StatusCode(), strings.TrimSpace(resp.String()))
		}
		u.logger.Debug("rating batch upserted", zap.Int("batch", i+1), zap.Int("rows", len(batch)))
	}
	return nil
}
