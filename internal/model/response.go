package model

import "time"

type ResponseID string

type Response struct {
	ID        ResponseID `db:"ID" json:"id"`
	MessageID MessageID  `db:"MessageID" json:"messageId"`
	AgentID   UserID     `db:"AgentID" json:"agentId"`
	UserID    UserID     `db:"UserID" json:"userId"`
	Text      string     `db:"Text" json:"responseText"`
	AudioURL  string     `db:"AudioURL" json:"audioUrl,omitempty"`
	SentAt    time.Time  `db:"SentAt" json:"sentAt"`
	IsRead    bool       `db:"IsRead" json:"isRead"`
}
