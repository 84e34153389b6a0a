package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	_ "github.com/mattn/go-sqlite3"

	"songBot/internal/domain"
)

// Store keeps secrets, runtime settings and the notification log in one
// sqlite file.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("sqlite: empty db path")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, errors.Wrap(err, "sqlite: creating dir")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}

	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const secretsTable = `
CREATE TABLE IF NOT EXISTS secrets (
	service TEXT NOT NULL,
	account TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (service, account)
);`

	if _, err := db.Exec(secretsTable); err != nil {
		return errors.Wrap(err, "sqlite: migrate secrets")
	}

	const settingsTable = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at TIMESTAMP NOT NULL
);`

	if _, err := db.Exec(settingsTable); err != nil {
		return errors.Wrap(err, "sqlite: migrate settings")
	}

	const notificationsTable = `
CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	title TEXT,
	message TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at DESC);`

	if _, err := db.Exec(notificationsTable); err != nil {
		return errors.Wrap(err, "sqlite: migrate notifications")
	}

	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Secrets returns a domain.SecretRepository scoped to service.
func (s *Store) Secrets(service string) *SecretTable {
	return &SecretTable{db: s.db, service: service}
}

// SecretTable is one service namespace of the secrets table.
type SecretTable struct {
	db      *sql.DB
	service string
}

func (t *SecretTable) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("sqlite: empty secret key")
	}

	const stmt = `
INSERT INTO secrets (service, account, value, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(service, account) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at;
`

	if _, err := t.db.ExecContext(ctx, stmt, t.service, key, value, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "sqlite: save secret")
	}
	return nil
}

func (t *SecretTable) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT value FROM secrets WHERE service = ? AND account = ? LIMIT 1;`

	var value string
	err := t.db.QueryRowContext(ctx, query, t.service, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "sqlite: load secret")
	}
	return value, true, nil
}

func (t *SecretTable) Delete(ctx context.Context, key string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM secrets WHERE service = ? AND account = ?`, t.service, key); err != nil {
		return errors.Wrap(err, "sqlite: delete secret")
	}
	return nil
}

var _ domain.SecretRepository = (*SecretTable)(nil)

// ----- Notifications -----

func (s *Store) SaveNotification(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	if notification == nil {
		return nil, errors.New("sqlite: notification nil")
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if notification.Type == "" {
		notification.Type = domain.NotificationGeneric
	}

	const stmt = `
INSERT INTO notifications (type, title, message, created_at)
VALUES (?, ?, ?, ?);
`

	res, err := s.db.ExecContext(
		ctx,
		stmt,
		string(notification.Type),
		notification.Title,
		notification.Message,
		notification.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: save notification")
	}

	if id, err := res.LastInsertId(); err == nil {
		notification.ID = id
	}

	return notification, nil
}

func (s *Store) ListNotifications(ctx context.Context, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, type, title, message, created_at
FROM notifications
ORDER BY created_at DESC, id DESC
LIMIT ?;
`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: list notifications")
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var (
			record           domain.Notification
			notificationType string
			title, message   sql.NullString
			createdAt        sql.NullTime
		)

		if err := rows.Scan(&record.ID, &notificationType, &title, &message, &createdAt); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan notification")
		}

		record.Type = domain.NotificationType(notificationType)
		record.Title = title.String
		record.Message = message.String
		record.CreatedAt = createdAt.Time

		out = append(out, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite: list notifications rows")
	}

	return out, nil
}

var _ domain.NotificationRepository = (*Store)(nil)
