package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema holds the tables read by the availability oracle. Every statement is
// idempotent so it can run on each start.
const Schema = `
CREATE TABLE IF NOT EXISTS doctors (
    tenant_id                TEXT NOT NULL,
    id                       TEXT NOT NULL,
    name                     TEXT NOT NULL,
    specialty                TEXT,
    primary_location_id      TEXT,
    max_appointments_per_day INTEGER,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS working_hours (
    tenant_id   TEXT NOT NULL,
    location_id TEXT NOT NULL,
    weekday     SMALLINT NOT NULL CHECK (weekday BETWEEN 0 AND 6),
    opens_at    TIME NOT NULL,
    closes_at   TIME NOT NULL,
    PRIMARY KEY (tenant_id, location_id, weekday)
);

CREATE TABLE IF NOT EXISTS appointments (
    tenant_id     TEXT NOT NULL,
    id            TEXT NOT NULL,
    doctor_id     TEXT NOT NULL,
    patient_id    TEXT NOT NULL,
    scheduled_for DATE NOT NULL,
    status        TEXT NOT NULL DEFAULT 'booked',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_appointments_doctor_day
    ON appointments (tenant_id, doctor_id, scheduled_for);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
