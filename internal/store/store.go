// Package store is the document store backing the helpline: accounts,
// messages and responses kept in a single SQLite database.
package store

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sqlx.DB
}

// Open connects to the database at dbPath, creating the file and its tables
// on first use.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(path.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", "file:"+dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite only allows one writer
	db.SetMaxOpenConns(1)

	s := &Store{db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes. It is safe to run against
// an existing database.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `create table if not exists user(
		ID             text not null primary key,
		CreatedAt      DATETIME not null,
		UpdatedAt      DATETIME null,
		LastLoggedInAt DATETIME null,
		LoginAttempts  tinyint not null default 0,
		Status         tinyint not null default 0,
		Email          text not null unique,
		Name           text not null,
		Role           text not null,
		Password       text not null
	)`)
	if err != nil {
		return fmt.Errorf("creating user table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `create table if not exists message(
		ID                 text not null primary key,
		UserID             text not null references user(ID),
		Status             text not null,
		AudioKey           text not null default '',
		AudioURL           text not null default '',
		TranslatedAudioURL text not null default '',
		Latitude           real null,
		Longitude          real null,
		TranscriptionText  text not null default '',
		TranslatedText     text not null default '',
		ErrorMessage       text not null default '',
		CreatedAt          DATETIME not null,
		LastResponseAt     DATETIME null
	)`)
	if err != nil {
		return fmt.Errorf("creating message table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `create table if not exists response(
		ID        text not null primary key,
		MessageID text not null references message(ID),
		AgentID   text not null references user(ID),
		UserID    text not null references user(ID),
		Text      text not null default '',
		AudioURL  text not null default '',
		SentAt    DATETIME not null,
		IsRead    tinyint not null default 0
	)`)
	if err != nil {
		return fmt.Errorf("creating response table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `create table if not exists revocation(
		TokenID   text not null primary key,
		ExpiresAt DATETIME not null
	)`)
	if err != nil {
		return fmt.Errorf("creating revocation table: %w", err)
	}

	for _, stmt := range []string{
		`create index if not exists message_user on message(UserID, CreatedAt)`,
		`create index if not exists response_message on response(MessageID, SentAt)`,
		`create index if not exists response_user on response(UserID, IsRead, SentAt)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

func expectOneRow(res interface{ RowsAffected() (int64, error) }, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 && notFound != nil {
		return notFound
	}
	if rows != 1 {
		return fmt.Errorf("expected 1 row to be affected, got %d", rows)
	}
	return nil
}
