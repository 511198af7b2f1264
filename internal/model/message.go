package model

import "time"

type MessageID string

type MessageStatus string

const (
	MessageStatusCreated   MessageStatus = "created"
	MessageStatusUploaded  MessageStatus = "uploaded"
	MessageStatusProcessed MessageStatus = "processed" // transcribed and translated
	MessageStatusResponded MessageStatus = "responded"
	MessageStatusFailed    MessageStatus = "failed"
)

// Pending reports whether the message is still waiting on upload.
func (s MessageStatus) Pending() bool {
	return s == MessageStatusCreated || s == MessageStatusUploaded
}

const ProcessingFailedMessage = "Failed to process audio"

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Message struct {
	ID                 MessageID     `json:"id"`
	UserID             UserID        `json:"userId"`
	Status             MessageStatus `json:"status"`
	AudioKey           string        `json:"-"`
	AudioURL           string        `json:"audioUrl,omitempty"`
	TranslatedAudioURL string        `json:"translatedAudioUrl,omitempty"`
	Location           *Location     `json:"location,omitempty"`
	TranscriptionText  string        `json:"transcriptionText,omitempty"`
	TranslatedText     string        `json:"translatedText,omitempty"`
	ErrorMessage       string        `json:"errorMessage,omitempty"`
	CreatedAt          time.Time     `json:"sentAt"`
	LastResponseAt     *time.Time    `json:"lastResponseAt,omitempty"`
}
