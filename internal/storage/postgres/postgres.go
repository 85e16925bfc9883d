package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"smsgate/internal/domain/models"
)

// Storage is a delivery sink that writes each dispatched batch to the
// outbox_messages table, where the downstream sender picks it up.
type Storage struct {
	db *sql.DB
}

func NewStorage(user, pass, name, host, port string) (*Storage, error) {
	const op = "storage.postgres.NewStorage"

	db, err := sql.Open("postgres",
		fmt.Sprintf(
			"user=%s"+
				" password=%s"+
				" dbname=%s"+
				" host=%s"+
				" port=%s"+
				" sslmode=disable",
			user,
			pass,
			name,
			host,
			port,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return New(db), nil
}

func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Deliver inserts the batch in a single transaction, so the messages are
// either all delivered or all failed.
func (s *Storage) Deliver(ctx context.Context, msgs []models.Message) (delivered []bool, err error) {
	const op = "storage.postgres.Deliver"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbox_messages
		    (id, account_number, phone_number, body)
		VALUES
		    ($1, $2, $3, $4)
	`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		if _, err = stmt.ExecContext(ctx, msg.ID, msg.AccountNumber, msg.PhoneNumber, msg.Body); err != nil {
			return nil, fmt.Errorf("%s: message %s: %w", op, msg.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	delivered = make([]bool, len(msgs))
	for i := range delivered {
		delivered[i] = true
	}

	return delivered, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}
