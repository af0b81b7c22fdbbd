// internal/storage/postgres.go
// Package storage provides the PostgreSQL implementation of the Store interface.
// This implementation is intended for production use with persistent data storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warrantypro/warranty-core-go/internal/model"
)

type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates all required tables and indexes if they don't already
// exist. The UNIQUE constraint on (owner_id, warranty_id, kind) is the
// idempotence contract of the notification ledger: the check-then-create in
// the expiry engine relies on insertion failing for duplicates, so the engine
// stays correct under concurrent overlapping runs.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Warranties table; rows are written by the CRUD layer, this core reads them
		CREATE TABLE IF NOT EXISTS warranties (
		    id TEXT PRIMARY KEY,
		    owner_id TEXT NOT NULL,
		    product_name TEXT NOT NULL,
		    brand TEXT NOT NULL DEFAULT '',
		    serial_number TEXT NOT NULL DEFAULT '',
		    retailer TEXT NOT NULL DEFAULT '',
		    category TEXT NOT NULL DEFAULT '',
		    purchase_date TIMESTAMP WITH TIME ZONE NOT NULL,
		    duration_months INTEGER NOT NULL CHECK (duration_months >= 0),
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_warranties_owner ON warranties(owner_id);

		-- Notification ledger; append-only except for read/delivery fields
		CREATE TABLE IF NOT EXISTS notifications (
		    id TEXT PRIMARY KEY,
		    owner_id TEXT NOT NULL,
		    warranty_id TEXT NOT NULL,
		    kind TEXT NOT NULL,
		    title TEXT NOT NULL,
		    message TEXT NOT NULL,
		    product_name TEXT NOT NULL DEFAULT '',
		    expiry_date TIMESTAMP WITH TIME ZONE NOT NULL,
		    days_until_expiry INTEGER NOT NULL,
		    sent_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    read_at TIMESTAMP WITH TIME ZONE,
		    email_attempted BOOLEAN NOT NULL DEFAULT FALSE,
		    email_sent BOOLEAN NOT NULL DEFAULT FALSE,
		    email_sent_at TIMESTAMP WITH TIME ZONE,
		    UNIQUE(owner_id, warranty_id, kind)
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_owner_sent_at ON notifications(owner_id, sent_at DESC);
		CREATE INDEX IF NOT EXISTS idx_notifications_owner_read_at ON notifications(owner_id, read_at);

		-- Claims table; conversation and AI artifacts stored as JSONB
		CREATE TABLE IF NOT EXISTS claims (
		    id TEXT PRIMARY KEY,
		    owner_id TEXT NOT NULL,
		    warranty_id TEXT NOT NULL,
		    claim_number TEXT NOT NULL UNIQUE,
		    issue_description TEXT NOT NULL,
		    conversation JSONB NOT NULL DEFAULT '[]',
		    suggestions JSONB,
		    generated_email JSONB,
		    email_sent_at TIMESTAMP WITH TIME ZONE,
		    email_sent_to TEXT NOT NULL DEFAULT '',
		    status TEXT NOT NULL DEFAULT 'pending',
		    notes TEXT NOT NULL DEFAULT '',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_claims_owner_status ON claims(owner_id, status);
		CREATE INDEX IF NOT EXISTS idx_claims_warranty ON claims(warranty_id);

		-- Sequence component of claim numbers
		CREATE SEQUENCE IF NOT EXISTS claim_number_seq;
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

func (p *postgres) PutWarranty(ctx context.Context, w model.Warranty) error {
	query := `INSERT INTO warranties (id, owner_id, product_name, brand, serial_number, retailer, category, purchase_date, duration_months, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (id) DO UPDATE
	          SET owner_id = $2, product_name = $3, brand = $4, serial_number = $5, retailer = $6, category = $7, purchase_date = $8, duration_months = $9`

	_, err := p.db.Exec(ctx, query,
		w.ID, w.OwnerID, w.ProductName, w.Brand, w.SerialNumber, w.Retailer,
		w.Category, w.PurchaseDate, w.DurationMonths, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put warranty: %w", err)
	}
	return nil
}

func (p *postgres) DeleteWarranty(ctx context.Context, warrantyID, ownerID string) error {
	result, err := p.db.Exec(ctx, `DELETE FROM warranties WHERE id = $1 AND owner_id = $2`, warrantyID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete warranty: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const warrantyColumns = `id, owner_id, product_name, brand, serial_number, retailer, category, purchase_date, duration_months, created_at`

func scanWarranty(row pgx.Row) (*model.Warranty, error) {
	var w model.Warranty
	err := row.Scan(&w.ID, &w.OwnerID, &w.ProductName, &w.Brand, &w.SerialNumber,
		&w.Retailer, &w.Category, &w.PurchaseDate, &w.DurationMonths, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (p *postgres) GetWarranty(ctx context.Context, warrantyID, ownerID string) (*model.Warranty, error) {
	query := `SELECT ` + warrantyColumns + ` FROM warranties WHERE id = $1 AND owner_id = $2`

	w, err := scanWarranty(p.db.QueryRow(ctx, query, warrantyID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get warranty: %w", err)
	}
	return w, nil
}

func (p *postgres) ListWarranties(ctx context.Context, ownerID string) ([]model.Warranty, error) {
	query := `SELECT ` + warrantyColumns + ` FROM warranties`
	args := []interface{}{}
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY id`

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list warranties: %w", err)
	}
	defer rows.Close()

	var warranties []model.Warranty
	for rows.Next() {
		w, err := scanWarranty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan warranty: %w", err)
		}
		warranties = append(warranties, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating warranties: %w", err)
	}
	return warranties, nil
}

func (p *postgres) CreateNotification(ctx context.Context, n model.NotificationRecord) error {
	query := `INSERT INTO notifications (id, owner_id, warranty_id, kind, title, message, product_name, expiry_date, days_until_expiry, sent_at, read_at, email_attempted, email_sent, email_sent_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := p.db.Exec(ctx, query,
		n.ID, n.OwnerID, n.WarrantyID, string(n.Kind), n.Title, n.Message,
		n.ProductName, n.ExpiryDate, n.DaysUntilExpiry, n.SentAt, n.ReadAt,
		n.EmailAttempted, n.EmailSent, n.EmailSentAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (p *postgres) MarkNotificationAttempted(ctx context.Context, notificationID string) error {
	query := `UPDATE notifications SET email_attempted = TRUE WHERE id = $1`

	result, err := p.db.Exec(ctx, query, notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification attempted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) MarkNotificationDelivered(ctx context.Context, notificationID string, at time.Time) error {
	query := `UPDATE notifications SET email_attempted = TRUE, email_sent = TRUE, email_sent_at = $2 WHERE id = $1`

	result, err := p.db.Exec(ctx, query, notificationID, at)
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const notificationColumns = `id, owner_id, warranty_id, kind, title, message, product_name, expiry_date, days_until_expiry, sent_at, read_at, email_attempted, email_sent, email_sent_at`

func scanNotification(row pgx.Row) (*model.NotificationRecord, error) {
	var n model.NotificationRecord
	var kind string
	err := row.Scan(&n.ID, &n.OwnerID, &n.WarrantyID, &kind, &n.Title, &n.Message,
		&n.ProductName, &n.ExpiryDate, &n.DaysUntilExpiry, &n.SentAt, &n.ReadAt,
		&n.EmailAttempted, &n.EmailSent, &n.EmailSentAt)
	if err != nil {
		return nil, err
	}
	n.Kind = model.AlertKind(kind)
	return &n, nil
}

func (p *postgres) MarkNotificationRead(ctx context.Context, notificationID, ownerID string, at time.Time) (*model.NotificationRecord, error) {
	query := `UPDATE notifications SET read_at = COALESCE(read_at, $3)
	          WHERE id = $1 AND owner_id = $2
	          RETURNING ` + notificationColumns

	n, err := scanNotification(p.db.QueryRow(ctx, query, notificationID, ownerID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return n, nil
}

func (p *postgres) ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications
	          WHERE owner_id = $1 ORDER BY sent_at DESC LIMIT $2`

	rows, err := p.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.NotificationRecord
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, nil
}

func (p *postgres) UnreadCount(ctx context.Context, ownerID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notifications WHERE owner_id = $1 AND read_at IS NULL`
	if err := p.db.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (p *postgres) CreateClaim(ctx context.Context, c model.Claim) error {
	conversationJSON, suggestionsJSON, emailJSON, err := marshalClaimJSON(c)
	if err != nil {
		return err
	}

	query := `INSERT INTO claims (id, owner_id, warranty_id, claim_number, issue_description, conversation, suggestions, generated_email, email_sent_at, email_sent_to, status, notes, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = p.db.Exec(ctx, query,
		c.ID, c.OwnerID, c.WarrantyID, c.ClaimNumber, c.IssueDescription,
		conversationJSON, suggestionsJSON, emailJSON, c.EmailSentAt, c.EmailSentTo,
		string(c.Status), c.Notes, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create claim: %w", err)
	}
	return nil
}

const claimColumns = `id, owner_id, warranty_id, claim_number, issue_description, conversation, suggestions, generated_email, email_sent_at, email_sent_to, status, notes, created_at, updated_at`

func marshalClaimJSON(c model.Claim) (conversation, suggestions, email []byte, err error) {
	if c.Conversation == nil {
		c.Conversation = []model.ChatMessage{}
	}
	conversation, err = json.Marshal(c.Conversation)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if c.Suggestions != nil {
		suggestions, err = json.Marshal(c.Suggestions)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal suggestions: %w", err)
		}
	}
	if c.GeneratedEmail != nil {
		email, err = json.Marshal(c.GeneratedEmail)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal generated email: %w", err)
		}
	}
	return conversation, suggestions, email, nil
}

func scanClaim(row pgx.Row) (*model.Claim, error) {
	var c model.Claim
	var status string
	var conversationJSON []byte
	var suggestionsJSON, emailJSON []byte

	err := row.Scan(&c.ID, &c.OwnerID, &c.WarrantyID, &c.ClaimNumber, &c.IssueDescription,
		&conversationJSON, &suggestionsJSON, &emailJSON, &c.EmailSentAt, &c.EmailSentTo,
		&status, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.ClaimStatus(status)

	if err := json.Unmarshal(conversationJSON, &c.Conversation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if len(suggestionsJSON) > 0 {
		c.Suggestions = &model.Suggestions{}
		if err := json.Unmarshal(suggestionsJSON, c.Suggestions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal suggestions: %w", err)
		}
	}
	if len(emailJSON) > 0 {
		c.GeneratedEmail = &model.EmailArtifact{}
		if err := json.Unmarshal(emailJSON, c.GeneratedEmail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal generated email: %w", err)
		}
	}
	return &c, nil
}

func (p *postgres) GetClaim(ctx context.Context, claimID, ownerID string) (*model.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1 AND owner_id = $2`

	c, err := scanClaim(p.db.QueryRow(ctx, query, claimID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return c, nil
}

func (p *postgres) ListClaims(ctx context.Context, query model.ListClaimsQuery) ([]model.Claim, error) {
	baseQuery := `SELECT ` + claimColumns + ` FROM claims WHERE owner_id = $1`
	args := []interface{}{query.OwnerID}
	argIndex := 2

	if query.WarrantyID != "" {
		baseQuery += fmt.Sprintf(" AND warranty_id = $%d", argIndex)
		args = append(args, query.WarrantyID)
		argIndex++
	}
	if query.Status != "" {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(query.Status))
		argIndex++
	}
	baseQuery += " ORDER BY created_at DESC"

	rows, err := p.db.Query(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claims: %w", err)
	}
	return claims, nil
}

// UpdateClaim applies fn to the claim row inside a transaction with the row
// locked, so concurrent updates to the same claim serialize and the
// conversation stays append-only in arrival order.
func (p *postgres) UpdateClaim(ctx context.Context, claimID, ownerID string, fn func(*model.Claim) error) (*model.Claim, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1 AND owner_id = $2 FOR UPDATE`
	c, err := scanClaim(tx.QueryRow(ctx, query, claimID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock claim: %w", err)
	}

	if err := fn(c); err != nil {
		return nil, err
	}

	conversationJSON, suggestionsJSON, emailJSON, err := marshalClaimJSON(*c)
	if err != nil {
		return nil, err
	}

	update := `UPDATE claims SET issue_description = $2, conversation = $3, suggestions = $4, generated_email = $5,
	           email_sent_at = $6, email_sent_to = $7, status = $8, notes = $9, updated_at = $10
	           WHERE id = $1`
	_, err = tx.Exec(ctx, update, c.ID, c.IssueDescription, conversationJSON, suggestionsJSON,
		emailJSON, c.EmailSentAt, c.EmailSentTo, string(c.Status), c.Notes, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim update: %w", err)
	}
	return c, nil
}

func (p *postgres) DeleteClaim(ctx context.Context, claimID, ownerID string) error {
	result, err := p.db.Exec(ctx, `DELETE FROM claims WHERE id = $1 AND owner_id = $2`, claimID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete claim: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) NextClaimSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := p.db.QueryRow(ctx, `SELECT nextval('claim_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to advance claim sequence: %w", err)
	}
	return seq, nil
}
