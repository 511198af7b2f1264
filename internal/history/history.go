// Package history joins a party's messages with the responses addressed to
// them and derives read state from the result.
//
// Everything here is recomputed from scratch on each call: the inputs are
// whole snapshots of the two collections, never deltas.
package history

import (
	"sort"

	"uk.co.dudmesh.helpline/internal/model"
)

// Entry is a message together with the responses that reference it.
type Entry struct {
	model.Message
	Responses []model.Response `json:"responses"`
}

// UnreadCount is the number of responses in the entry not yet read.
func (e Entry) UnreadCount() int {
	n := 0
	for _, r := range e.Responses {
		if !r.IsRead {
			n++
		}
	}
	return n
}

type History struct {
	Entries   []Entry `json:"messages"`
	HasUnread bool    `json:"hasUnread"`
}

// Combine attaches to every message the responses whose MessageID matches,
// oldest response first. Entries are ordered newest message first. Neither
// input slice is modified.
func Combine(messages []model.Message, responses []model.Response) []Entry {
	byMessage := make(map[model.MessageID][]model.Response, len(messages))
	for _, r := range responses {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}

	entries := make([]Entry, 0, len(messages))
	for _, m := range messages {
		thread := byMessage[m.ID]
		if thread == nil {
			thread = []model.Response{}
		}
		SortResponses(thread)
		entries = append(entries, Entry{Message: m, Responses: thread})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].CreatedAt, entries[j].CreatedAt
		if a.Equal(b) {
			return entries[i].ID > entries[j].ID
		}
		return a.After(b)
	})
	return entries
}

// SortResponses orders responses by send time ascending. Equal send times
// fall back to the ID so the order does not depend on the input order.
func SortResponses(responses []model.Response) {
	sort.SliceStable(responses, func(i, j int) bool {
		a, b := responses[i].SentAt, responses[j].SentAt
		if a.Equal(b) {
			return responses[i].ID < responses[j].ID
		}
		return a.Before(b)
	})
}

func HasUnread(entries []Entry) bool {
	for _, e := range entries {
		for _, r := range e.Responses {
			if !r.IsRead {
				return true
			}
		}
	}
	return false
}

func Build(messages []model.Message, responses []model.Response) History {
	entries := Combine(messages, responses)
	return History{
		Entries:   entries,
		HasUnread: HasUnread(entries),
	}
}
