package database

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/sentinel-mysql/cluster"
)

// User represents a user in the database
type User struct {
	ID    int    `db:"id"`
	Name  string `db:"name"`
	Email string `db:"email"`
}

// CreateTable creates the users table if it doesn't exist
func (db *DB) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id INT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(100) UNIQUE,
			email VARCHAR(100)
		)
	`
	_, err := db.ExecContext(ctx, query)
	return err
}

// InsertUsers inserts sample users through the primary with named binding.
func (db *DB) InsertUsers(ctx context.Context) error {
	users := []User{
		{Name: "Alice", Email: "alice@example.com"},
		{Name: "Bob", Email: "bob@example.com"},
		{Name: "Charlie", Email: "charlie@example.com"},
	}

	for _, user := range users {
		_, err := db.NamedExecContext(ctx,
			"INSERT IGNORE INTO users (name, email) VALUES (:name, :email)",
			user,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// QueryReplicas reads users from any replica, picked at random.
func (db *DB) QueryReplicas(ctx context.Context, logger zerolog.Logger) error {
	records, err := db.Replicas.Of("REPLICA*", cluster.Random).
		Query(ctx, "SELECT id, name, email FROM users LIMIT 10")
	if err != nil {
		return err
	}
	logger.Info().Int("count", len(records)).Msg("queried users from replica")
	return nil
}

// GetUser queries a single user from the primary.
func (db *DB) GetUser(ctx context.Context, name string) (*User, error) {
	var user User
	err := db.GetContext(ctx, &user, "SELECT id, name, email FROM users WHERE name = ?", name)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// InsertWithTransaction inserts and reads back a user in one transaction.
func (db *DB) InsertWithTransaction(ctx context.Context) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.NamedExecContext(ctx,
		"INSERT IGNORE INTO users (name, email) VALUES (:name, :email)",
		User{Name: "Transaction User", Email: "tx@example.com"},
	)
	if err != nil {
		return err
	}

	var user User
	err = tx.GetContext(ctx, &user, "SELECT id, name, email FROM users WHERE email = ?", "tx@example.com")
	if err != nil {
		return err
	}

	return tx.Commit()
}
