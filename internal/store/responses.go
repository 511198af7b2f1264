package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"uk.co.dudmesh.helpline/internal/model"
)

func (s *Store) CreateResponse(ctx context.Context, response *model.Response) error {
	res, err := s.db.NamedExecContext(ctx, `insert into response
		(ID, MessageID, AgentID, UserID, Text, AudioURL, SentAt, IsRead)
		values(:ID, :MessageID, :AgentID, :UserID, :Text, :AudioURL, :SentAt, :IsRead)`, response)
	if err != nil {
		return fmt.Errorf("inserting response: %w", err)
	}
	return expectOneRow(res, nil)
}

func (s *Store) Response(ctx context.Context, responseID model.ResponseID) (*model.Response, error) {
	response := &model.Response{}
	err := s.db.GetContext(ctx, response, `select * from response where ID = ?`, responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorResponseNotFound
		}
		return nil, fmt.Errorf("fetching response: %w", err)
	}
	response.SentAt = response.SentAt.UTC()
	return response, nil
}

// ResponsesForMessage returns the replies to a message, oldest first.
func (s *Store) ResponsesForMessage(ctx context.Context, messageID model.MessageID) ([]model.Response, error) {
	return s.selectResponses(ctx, `select * from response where MessageID = ? order by SentAt asc, ID asc`, messageID)
}

// ResponsesForUser returns every reply addressed to userID, newest first.
func (s *Store) ResponsesForUser(ctx context.Context, userID model.UserID) ([]model.Response, error) {
	return s.selectResponses(ctx, `select * from response where UserID = ? order by SentAt desc`, userID)
}

// UnreadResponses returns at most limit unread replies for userID, newest
// first.
func (s *Store) UnreadResponses(ctx context.Context, userID model.UserID, limit int) ([]model.Response, error) {
	return s.selectResponses(ctx, `select * from response where UserID = ? and IsRead = 0 order by SentAt desc limit ?`, userID, limit)
}

func (s *Store) selectResponses(ctx context.Context, query string, args ...interface{}) ([]model.Response, error) {
	responses := []model.Response{}
	if err := s.db.SelectContext(ctx, &responses, query, args...); err != nil {
		return nil, fmt.Errorf("selecting responses: %w", err)
	}
	for i := range responses {
		responses[i].SentAt = responses[i].SentAt.UTC()
	}
	return responses, nil
}

// MarkResponseRead flips the read flag. Marking an already read response is
// not an error.
func (s *Store) MarkResponseRead(ctx context.Context, responseID model.ResponseID) error {
	res, err := s.db.ExecContext(ctx, `update response set IsRead = 1 where ID = ?`, responseID)
	if err != nil {
		return fmt.Errorf("marking response as read: %w", err)
	}
	return expectOneRow(res, model.ErrorResponseNotFound)
}

// MarkMessageResponsesRead marks every unread reply to messageID read and
// returns how many changed.
func (s *Store) MarkMessageResponsesRead(ctx context.Context, messageID model.MessageID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `update response set IsRead = 1 where MessageID = ? and IsRead = 0`, messageID)
	if err != nil {
		return 0, fmt.Errorf("marking message responses as read: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows, nil
}
