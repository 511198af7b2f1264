// Package helpline implements the two sides of the helpline: reporting
// parties submit recordings and read replies, operators respond.
package helpline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.helpline/internal/blob"
	"uk.co.dudmesh.helpline/internal/feed"
	"uk.co.dudmesh.helpline/internal/history"
	"uk.co.dudmesh.helpline/internal/location"
	"uk.co.dudmesh.helpline/internal/model"
	"uk.co.dudmesh.helpline/internal/pipeline"
)

const (
	DefaultUnreadLimit = 5
	audioContentType   = "audio/wav"
)

type Store interface {
	CreateMessage(ctx context.Context, message *model.Message) error
	Message(ctx context.Context, messageID model.MessageID) (*model.Message, error)
	MessagesForUser(ctx context.Context, userID model.UserID) ([]model.Message, error)
	AllMessages(ctx context.Context) ([]model.Message, error)
	SetMessageAudio(ctx context.Context, messageID model.MessageID, key, url string) error
	SetMessageProcessed(ctx context.Context, messageID model.MessageID, transcription, translation, translatedAudioURL string) error
	SetMessageFailed(ctx context.Context, messageID model.MessageID, reason string) error
	SetMessageResponded(ctx context.Context, messageID model.MessageID, at time.Time) error

	CreateResponse(ctx context.Context, response *model.Response) error
	Response(ctx context.Context, responseID model.ResponseID) (*model.Response, error)
	ResponsesForMessage(ctx context.Context, messageID model.MessageID) ([]model.Response, error)
	ResponsesForUser(ctx context.Context, userID model.UserID) ([]model.Response, error)
	UnreadResponses(ctx context.Context, userID model.UserID, limit int) ([]model.Response, error)
	MarkResponseRead(ctx context.Context, responseID model.ResponseID) error
	MarkMessageResponsesRead(ctx context.Context, messageID model.MessageID) (int64, error)
}

type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (*blob.Object, error)
	Stat(key string) (*blob.Object, error)
	Open(key, token string) (io.ReadCloser, *blob.Object, error)
	URL(obj *blob.Object) string
}

type Pipeline interface {
	Process(ctx context.Context, audio []byte) (*pipeline.Result, error)
}

type service struct {
	store    Store
	blobs    Blobs
	pipeline Pipeline
	feed     feed.Publisher
	now      func() time.Time
}

func New(store Store, blobs Blobs, pipeline Pipeline, publisher feed.Publisher) *service {
	return &service{
		store:    store,
		blobs:    blobs,
		pipeline: pipeline,
		feed:     publisher,
		now:      time.Now,
	}
}

type SubmitParams struct {
	UserID      model.UserID
	Audio       []byte
	ContentType string
	Location    *model.Location
}

type RespondParams struct {
	MessageID   model.MessageID
	AgentID     model.UserID
	Text        string
	Audio       []byte
	ContentType string
}

func audioKey(folder string, id string) string {
	return folder + "/" + id + ".wav"
}

// publish is best effort. A lost event only delays a subscriber's next
// snapshot.
func (s *service) publish(ctx context.Context, collection feed.Collection, op feed.Op, documentID string, userID model.UserID) {
	err := s.feed.Publish(ctx, feed.Event{
		Collection: collection,
		Op:         op,
		DocumentID: documentID,
		UserID:     userID,
		At:         s.now().UTC(),
	})
	if err != nil {
		log.Errorf("publishing %s %s event for %s: %v", collection, op, documentID, err)
	}
}

func (s *service) putAudio(ctx context.Context, key string, audio []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = audioContentType
	}
	obj, err := s.blobs.Put(ctx, key, bytes.NewReader(audio), contentType)
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", key, err)
	}
	return s.blobs.URL(obj), nil
}

// Submit records a new message and uploads its audio. The returned message
// is uploaded but not yet processed.
func (s *service) Submit(ctx context.Context, params *SubmitParams) (*model.Message, error) {
	if len(params.Audio) == 0 {
		return nil, model.ErrorMissingAudio
	}
	if params.Location != nil {
		if err := location.Validate(*params.Location); err != nil {
			return nil, err
		}
	}

	message := &model.Message{
		ID:        model.MessageID(model.CreateID()),
		UserID:    params.UserID,
		Status:    model.MessageStatusCreated,
		Location:  params.Location,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	s.publish(ctx, feed.CollectionMessages, feed.OpCreate, string(message.ID), message.UserID)

	key := audioKey("audio", string(message.ID))
	url, err := s.putAudio(ctx, key, params.Audio, params.ContentType)
	if err != nil {
		log.Errorf("uploading audio for message %s: %v", message.ID, err)
		return nil, err
	}
	if err := s.store.SetMessageAudio(ctx, message.ID, key, url); err != nil {
		return nil, fmt.Errorf("recording message audio: %w", err)
	}
	s.publish(ctx, feed.CollectionMessages, feed.OpUpdate, string(message.ID), message.UserID)

	message.AudioKey = key
	message.AudioURL = url
	message.Status = model.MessageStatusUploaded
	return message, nil
}

func (s *service) readAudio(key string) ([]byte, error) {
	obj, err := s.blobs.Stat(key)
	if err != nil {
		return nil, fmt.Errorf("finding audio: %w", err)
	}
	r, _, err := s.blobs.Open(key, obj.Token)
	if err != nil {
		return nil, fmt.Errorf("opening audio: %w", err)
	}
	defer r.Close()

	audio, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	return audio, nil
}

// Process runs an uploaded message through the speech pipeline once. On
// failure the message is marked failed and the error returned.
func (s *service) Process(ctx context.Context, messageID model.MessageID) (*model.Message, error) {
	message, err := s.store.Message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.AudioKey == "" {
		return nil, model.ErrorMissingAudio
	}

	if err := s.process(ctx, message); err != nil {
		log.Errorf("processing message %s: %v", messageID, err)
		s.fail(ctx, message)
		return nil, err
	}
	s.publish(ctx, feed.CollectionMessages, feed.OpUpdate, string(messageID), message.UserID)

	return s.store.Message(ctx, messageID)
}

func (s *service) process(ctx context.Context, message *model.Message) error {
	audio, err := s.readAudio(message.AudioKey)
	if err != nil {
		return err
	}

	result, err := s.pipeline.Process(ctx, audio)
	if err != nil {
		return fmt.Errorf("processing audio: %w", err)
	}

	var translatedAudioURL string
	if len(result.Audio) > 0 {
		translatedAudioURL, err = s.putAudio(ctx, audioKey("synthesized", string(message.ID)), result.Audio, audioContentType)
		if err != nil {
			return err
		}
	}

	err = s.store.SetMessageProcessed(ctx, message.ID, result.Transcription, result.Translation, translatedAudioURL)
	if err != nil {
		return fmt.Errorf("recording transcription: %w", err)
	}
	return nil
}

// fail marks a message failed even when ctx has been cancelled, so an
// abandoned request never leaves it uploaded.
func (s *service) fail(ctx context.Context, message *model.Message) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.SetMessageFailed(ctx, message.ID, model.ProcessingFailedMessage); err != nil {
		log.Errorf("marking message %s failed: %v", message.ID, err)
		return
	}
	s.publish(ctx, feed.CollectionMessages, feed.OpUpdate, string(message.ID), message.UserID)
}

// Respond stores an operator's reply. The recipient is always the author of
// the message being answered.
func (s *service) Respond(ctx context.Context, params *RespondParams) (*model.Response, error) {
	text := strings.TrimSpace(params.Text)
	if text == "" && len(params.Audio) == 0 {
		return nil, model.ErrorEmptyResponse
	}

	message, err := s.store.Message(ctx, params.MessageID)
	if err != nil {
		return nil, err
	}

	response := &model.Response{
		ID:        model.ResponseID(model.CreateID()),
		MessageID: message.ID,
		AgentID:   params.AgentID,
		UserID:    message.UserID,
		Text:      text,
		SentAt:    s.now().UTC(),
	}

	if len(params.Audio) > 0 {
		response.AudioURL, err = s.putAudio(ctx, audioKey("responses", string(response.ID)), params.Audio, params.ContentType)
		if err != nil {
			log.Errorf("uploading response audio for message %s: %v", message.ID, err)
			return nil, err
		}
	}

	if err := s.store.CreateResponse(ctx, response); err != nil {
		return nil, fmt.Errorf("creating response: %w", err)
	}
	s.publish(ctx, feed.CollectionResponses, feed.OpCreate, string(response.ID), response.UserID)

	if err := s.store.SetMessageResponded(ctx, message.ID, response.SentAt); err != nil {
		return nil, fmt.Errorf("updating message status: %w", err)
	}
	s.publish(ctx, feed.CollectionMessages, feed.OpUpdate, string(message.ID), message.UserID)

	return response, nil
}

// MarkRead flips a response to read for its recipient. Repeating it is a
// no-op.
func (s *service) MarkRead(ctx context.Context, userID model.UserID, responseID model.ResponseID) error {
	response, err := s.store.Response(ctx, responseID)
	if err != nil {
		return err
	}
	if response.UserID != userID {
		return model.ErrorForbidden
	}
	if response.IsRead {
		return nil
	}

	if err := s.store.MarkResponseRead(ctx, responseID); err != nil {
		return fmt.Errorf("marking response read: %w", err)
	}
	s.publish(ctx, feed.CollectionResponses, feed.OpUpdate, string(responseID), userID)
	return nil
}

// MarkMessageRead marks every reply to one of the caller's messages read and
// returns how many changed.
func (s *service) MarkMessageRead(ctx context.Context, userID model.UserID, messageID model.MessageID) (int64, error) {
	message, err := s.store.Message(ctx, messageID)
	if err != nil {
		return 0, err
	}
	if message.UserID != userID {
		return 0, model.ErrorForbidden
	}

	marked, err := s.store.MarkMessageResponsesRead(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("marking message read: %w", err)
	}
	if marked > 0 {
		s.publish(ctx, feed.CollectionResponses, feed.OpUpdate, string(messageID), userID)
	}
	return marked, nil
}

// Messages returns the caller's own messages, or every message for
// operators. Newest first.
func (s *service) Messages(ctx context.Context, session *model.Session) ([]model.Message, error) {
	if session.Role == model.RoleAgent {
		return s.store.AllMessages(ctx)
	}
	return s.store.MessagesForUser(ctx, session.UserID)
}

// Responses returns the thread for one message, oldest first. Reporting
// parties may only read their own threads.
func (s *service) Responses(ctx context.Context, session *model.Session, messageID model.MessageID) ([]model.Response, error) {
	if session.Role != model.RoleAgent {
		message, err := s.store.Message(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if message.UserID != session.UserID {
			return nil, model.ErrorForbidden
		}
	}
	return s.store.ResponsesForMessage(ctx, messageID)
}

func (s *service) ResponsesForUser(ctx context.Context, userID model.UserID) ([]model.Response, error) {
	return s.store.ResponsesForUser(ctx, userID)
}

// Unread returns the newest unread replies for userID.
func (s *service) Unread(ctx context.Context, userID model.UserID, limit int) ([]model.Response, error) {
	if limit <= 0 {
		limit = DefaultUnreadLimit
	}
	return s.store.UnreadResponses(ctx, userID, limit)
}

// History joins a reporting party's messages with the replies addressed to
// them.
func (s *service) History(ctx context.Context, userID model.UserID) (history.History, error) {
	messages, err := s.store.MessagesForUser(ctx, userID)
	if err != nil {
		return history.History{}, fmt.Errorf("loading messages: %w", err)
	}
	responses, err := s.store.ResponsesForUser(ctx, userID)
	if err != nil {
		return history.History{}, fmt.Errorf("loading responses: %w", err)
	}
	return history.Build(messages, responses), nil
}
