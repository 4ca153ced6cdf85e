package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/domain"
)

const createPredictionsTable = `
CREATE TABLE IF NOT EXISTS validated_predictions (
    id               UUID        PRIMARY KEY,
    symbol           TEXT        NOT NULL,
    method           TEXT        NOT NULL,
    made_at          TIMESTAMPTZ NOT NULL,
    horizon_seconds  INTEGER     NOT NULL,
    current_price    NUMERIC     NOT NULL,
    predicted_price  NUMERIC     NOT NULL,
    lower_bound      NUMERIC     NOT NULL,
    upper_bound      NUMERIC     NOT NULL,
    confidence       TEXT        NOT NULL,
    actual_price     NUMERIC,
    error            NUMERIC,
    error_pct        NUMERIC,
    within_interval  BOOLEAN,
    validated_at     TIMESTAMPTZ,
    metadata         JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_validated_predictions_symbol_time
    ON validated_predictions (symbol, made_at DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PredictionRepository archives validated predictions. The in-memory tracker
// stays the source of truth for live metrics.
type PredictionRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPredictionRepository(pool PgxPool, tracer trace.Tracer) *PredictionRepository {
	return &PredictionRepository{pool: pool, tracer: tracer}
}

func (r *PredictionRepository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "prediction-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createPredictionsTable)
	return err
}

func (r *PredictionRepository) InsertValidated(ctx context.Context, records []domain.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "prediction-repo.insert-validated")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	batch := &pgx.Batch{}
	for _, rec := range records {
		f := rec.Forecast
		metadata, err := json.Marshal(f.Metadata)
		if err != nil || f.Metadata == nil {
			metadata = []byte("{}")
		}
		batch.Queue(
			`INSERT INTO validated_predictions (
			     id, symbol, method, made_at, horizon_seconds,
			     current_price, predicted_price, lower_bound, upper_bound, confidence,
			     actual_price, error, error_pct, within_interval, validated_at, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID, f.Symbol, f.Method, f.Timestamp.UTC(), int(f.Horizon/time.Second),
			f.CurrentPrice, f.Prediction, f.LowerBound, f.UpperBound, string(f.Confidence),
			rec.ActualPrice, rec.Error, rec.ErrorPct, rec.WithinInterval, rec.ValidationTime, string(metadata),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListRecent returns the newest archived records for symbol, newest first.
func (r *PredictionRepository) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.PredictionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "prediction-repo.list-recent")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, method, made_at, horizon_seconds,
		        current_price, predicted_price, lower_bound, upper_bound, confidence,
		        actual_price, error, error_pct, within_interval, validated_at
		 FROM validated_predictions
		 WHERE symbol = $1
		 ORDER BY made_at DESC
		 LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PredictionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (domain.PredictionRecord, error) {
	var (
		rec         domain.PredictionRecord
		f           domain.Forecast
		horizonSecs int32
		confidence  string
		actual      pgtype.Float8
		errAbs      pgtype.Float8
		errPct      pgtype.Float8
		within      pgtype.Bool
		validatedAt pgtype.Timestamptz
	)
	if err := s.Scan(
		&rec.ID, &f.Symbol, &f.Method, &f.Timestamp, &horizonSecs,
		&f.CurrentPrice, &f.Prediction, &f.LowerBound, &f.UpperBound, &confidence,
		&actual, &errAbs, &errPct, &within, &validatedAt,
	); err != nil {
		return rec, err
	}

	horizon := time.Duration(horizonSecs) * time.Second
	full := domain.NewForecast(f.Method, f.Prediction, f.CurrentPrice, horizon, f.Timestamp.UTC())
	full.Symbol = f.Symbol
	full.LowerBound, full.UpperBound = f.LowerBound, f.UpperBound
	full.Confidence = domain.Confidence(confidence)
	rec.Forecast = full

	if actual.Valid {
		v := actual.Float64
		rec.ActualPrice = &v
		rec.Validated = true
	}
	if errAbs.Valid {
		v := errAbs.Float64
		rec.Error = &v
	}
	if errPct.Valid {
		v := errPct.Float64
		rec.ErrorPct = &v
	}
	if within.Valid {
		v := within.Bool
		rec.WithinInterval = &v
	}
	if validatedAt.Valid {
		t := validatedAt.Time.UTC()
		rec.ValidationTime = &t
	}
	return rec, nil
}
