package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"donation-service/internal/domain"
)

const migrationsTable = "donation_schema_migrations"

type PostgresSubmissionRepository struct {
	db *sql.DB
}

func NewPostgresSubmissionRepository(db *sql.DB) *PostgresSubmissionRepository {
	return &PostgresSubmissionRepository{db: db}
}

// Open applies pending migrations and connects to the database.
func Open(dbURL, migrationsPath string) (*sql.DB, error) {
	// Use a separate migrations table so the schema can share a database with other services
	migrationDBURL := dbURL
	if strings.Contains(dbURL, "?") {
		migrationDBURL = dbURL + "&x-migrations-table=" + migrationsTable
	} else {
		migrationDBURL = dbURL + "?x-migrations-table=" + migrationsTable
	}

	m, err := migrate.New(migrationsPath, migrationDBURL)
	if err != nil {
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("Database migration successfully applied")

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (r *PostgresSubmissionRepository) SaveLog(ctx context.Context, l domain.SubmissionLog) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	log.WithFields(log.Fields{
		"submission_id":   l.SubmissionID,
		"recipient_email": l.RecipientEmail,
		"subject":         l.Subject,
		"status":          l.Status,
		"error_message":   l.ErrorMessage,
	}).Info("Saving submission log to database")

	const query = `
        INSERT INTO submission_logs (submission_id, recipient_email, cc_email, subject, amount, status, error_message)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `

	if _, err := r.db.ExecContext(ctx, query,
		l.SubmissionID, l.RecipientEmail, nullIfEmpty(l.CcEmail), l.Subject, l.Amount,
		string(l.Status), nullStringOrNil(l.ErrorMessage),
	); err != nil {
		return fmt.Errorf("failed to insert submission log: %w", err)
	}
	return nil
}

func nullStringOrNil(ns sql.NullString) interface{} {
	if ns.Valid {
		return ns.String
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
