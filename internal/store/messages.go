package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"uk.co.dudmesh.helpline/internal/model"
)

type messageRow struct {
	ID                 string          `db:"ID"`
	UserID             string          `db:"UserID"`
	Status             string          `db:"Status"`
	AudioKey           string          `db:"AudioKey"`
	AudioURL           string          `db:"AudioURL"`
	TranslatedAudioURL string          `db:"TranslatedAudioURL"`
	Latitude           sql.NullFloat64 `db:"Latitude"`
	Longitude          sql.NullFloat64 `db:"Longitude"`
	TranscriptionText  string          `db:"TranscriptionText"`
	TranslatedText     string          `db:"TranslatedText"`
	ErrorMessage       string          `db:"ErrorMessage"`
	CreatedAt          time.Time       `db:"CreatedAt"`
	LastResponseAt     *time.Time      `db:"LastResponseAt"`
}

func rowFromMessage(m *model.Message) *messageRow {
	row := &messageRow{
		ID:                 string(m.ID),
		UserID:             string(m.UserID),
		Status:             string(m.Status),
		AudioKey:           m.AudioKey,
		AudioURL:           m.AudioURL,
		TranslatedAudioURL: m.TranslatedAudioURL,
		TranscriptionText:  m.TranscriptionText,
		TranslatedText:     m.TranslatedText,
		ErrorMessage:       m.ErrorMessage,
		CreatedAt:          m.CreatedAt,
		LastResponseAt:     m.LastResponseAt,
	}
	if m.Location != nil {
		row.Latitude = sql.NullFloat64{Float64: m.Location.Latitude, Valid: true}
		row.Longitude = sql.NullFloat64{Float64: m.Location.Longitude, Valid: true}
	}
	return row
}

func (r *messageRow) toMessage() model.Message {
	m := model.Message{
		ID:                 model.MessageID(r.ID),
		UserID:             model.UserID(r.UserID),
		Status:             model.MessageStatus(r.Status),
		AudioKey:           r.AudioKey,
		AudioURL:           r.AudioURL,
		TranslatedAudioURL: r.TranslatedAudioURL,
		TranscriptionText:  r.TranscriptionText,
		TranslatedText:     r.TranslatedText,
		ErrorMessage:       r.ErrorMessage,
		CreatedAt:          r.CreatedAt.UTC(),
		LastResponseAt:     r.LastResponseAt,
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		m.Location = &model.Location{Latitude: r.Latitude.Float64, Longitude: r.Longitude.Float64}
	}
	return m
}

func (s *Store) CreateMessage(ctx context.Context, message *model.Message) error {
	res, err := s.db.NamedExecContext(ctx, `insert into message
		(ID, UserID, Status, AudioKey, AudioURL, TranslatedAudioURL, Latitude, Longitude,
		 TranscriptionText, TranslatedText, ErrorMessage, CreatedAt, LastResponseAt)
		values(:ID, :UserID, :Status, :AudioKey, :AudioURL, :TranslatedAudioURL, :Latitude, :Longitude,
		 :TranscriptionText, :TranslatedText, :ErrorMessage, :CreatedAt, :LastResponseAt)`, rowFromMessage(message))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return expectOneRow(res, nil)
}

func (s *Store) Message(ctx context.Context, messageID model.MessageID) (*model.Message, error) {
	row := &messageRow{}
	err := s.db.GetContext(ctx, row, `select * from message where ID = ?`, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorMessageNotFound
		}
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	m := row.toMessage()
	return &m, nil
}

// MessagesForUser returns the messages authored by userID, newest first.
func (s *Store) MessagesForUser(ctx context.Context, userID model.UserID) ([]model.Message, error) {
	return s.selectMessages(ctx, `select * from message where UserID = ? order by CreatedAt desc`, userID)
}

// AllMessages returns every message, newest first.
func (s *Store) AllMessages(ctx context.Context) ([]model.Message, error) {
	return s.selectMessages(ctx, `select * from message order by CreatedAt desc`)
}

func (s *Store) selectMessages(ctx context.Context, query string, args ...interface{}) ([]model.Message, error) {
	rows := []messageRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("selecting messages: %w", err)
	}
	messages := make([]model.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toMessage())
	}
	return messages, nil
}

func (s *Store) SetMessageAudio(ctx context.Context, messageID model.MessageID, key, url string) error {
	res, err := s.db.ExecContext(ctx, `update message set AudioKey = ?, AudioURL = ?, Status = ? where ID = ?`,
		key, url, model.MessageStatusUploaded, messageID)
	if err != nil {
		return fmt.Errorf("updating message audio: %w", err)
	}
	return expectOneRow(res, model.ErrorMessageNotFound)
}

func (s *Store) SetMessageProcessed(ctx context.Context, messageID model.MessageID, transcription, translation, translatedAudioURL string) error {
	res, err := s.db.ExecContext(ctx, `update message set
		TranscriptionText = ?, TranslatedText = ?, TranslatedAudioURL = ?, ErrorMessage = '', Status = ?
		where ID = ?`, transcription, translation, translatedAudioURL, model.MessageStatusProcessed, messageID)
	if err != nil {
		return fmt.Errorf("updating message transcription: %w", err)
	}
	return expectOneRow(res, model.ErrorMessageNotFound)
}

func (s *Store) SetMessageFailed(ctx context.Context, messageID model.MessageID, reason string) error {
	res, err := s.db.ExecContext(ctx, `update message set Status = ?, ErrorMessage = ? where ID = ?`,
		model.MessageStatusFailed, reason, messageID)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	return expectOneRow(res, model.ErrorMessageNotFound)
}

func (s *Store) SetMessageResponded(ctx context.Context, messageID model.MessageID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update message set Status = ?, LastResponseAt = ? where ID = ?`,
		model.MessageStatusResponded, at, messageID)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	return expectOneRow(res, model.ErrorMessageNotFound)
}
