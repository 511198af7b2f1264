package history

import (
	"fmt"
	"math"
	"time"

	"uk.co.dudmesh.helpline/internal/model"
)

type Stats struct {
	TotalMessages       int    `json:"totalMessages"`
	RespondedMessages   int    `json:"respondedMessages"`
	ProcessingMessages  int    `json:"processingMessages"`
	PendingMessages     int    `json:"pendingMessages"`
	FailedMessages      int    `json:"failedMessages"`
	TotalResponses      int    `json:"totalResponses"`
	ResponseRate        int    `json:"responseRate"` // percent
	AverageResponseTime string `json:"averageResponseTime"`
}

func Summarize(entries []Entry) Stats {
	stats := Stats{
		TotalMessages:       len(entries),
		AverageResponseTime: "N/A",
	}

	var total time.Duration
	answered := 0
	for _, e := range entries {
		switch {
		case e.Status == model.MessageStatusResponded:
			stats.RespondedMessages++
		case e.Status == model.MessageStatusProcessed:
			stats.ProcessingMessages++
		case e.Status.Pending():
			stats.PendingMessages++
		case e.Status == model.MessageStatusFailed:
			stats.FailedMessages++
		}
		stats.TotalResponses += len(e.Responses)

		if len(e.Responses) > 0 && e.LastResponseAt != nil {
			total += e.LastResponseAt.Sub(e.CreatedAt)
			answered++
		}
	}

	if stats.TotalMessages > 0 {
		stats.ResponseRate = int(math.Round(float64(stats.RespondedMessages) / float64(stats.TotalMessages) * 100))
	}
	if answered > 0 {
		stats.AverageResponseTime = formatMinutes(total.Minutes() / float64(answered))
	}
	return stats
}

func formatMinutes(minutes float64) string {
	m := int(math.Round(minutes))
	if m < 60 {
		return fmt.Sprintf("%d min", m)
	}
	return fmt.Sprintf("%dh %dm", m/60, m%60)
}

// Notifications is the banner state shown to a reporting party.
type Notifications struct {
	Unread           []UnreadEntry `json:"unread"`
	UnreadResponses  int           `json:"unreadResponses"`
	AwaitingResponse int           `json:"awaitingResponse"`
}

type UnreadEntry struct {
	MessageID model.MessageID `json:"messageId"`
	Count     int             `json:"count"`
}

func Notify(entries []Entry) Notifications {
	n := Notifications{Unread: []UnreadEntry{}}
	for _, e := range entries {
		// processed means transcribed and waiting on an operator
		if e.Status == model.MessageStatusProcessed {
			n.AwaitingResponse++
		}
		if count := e.UnreadCount(); count > 0 {
			n.Unread = append(n.Unread, UnreadEntry{MessageID: e.ID, Count: count})
			n.UnreadResponses += count
		}
	}
	return n
}

// Overview is everything the reporting party's dashboard shows.
type Overview struct {
	History
	Stats         Stats         `json:"stats"`
	Notifications Notifications `json:"notifications"`
}

func NewOverview(h History) Overview {
	return Overview{
		History:       h,
		Stats:         Summarize(h.Entries),
		Notifications: Notify(h.Entries),
	}
}
