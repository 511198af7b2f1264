// Package feed carries change notifications for the messages and responses
// collections to subscribed sessions.
//
// Events only name what changed. Subscribers re-read the collection to get
// a fresh snapshot.
package feed

import (
	"context"
	"time"

	"uk.co.dudmesh.helpline/internal/model"
)

type Collection string

const (
	CollectionMessages  Collection = "messages"
	CollectionResponses Collection = "responses"
)

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

type Event struct {
	Collection Collection   `json:"collection"`
	Op         Op           `json:"op"`
	DocumentID string       `json:"documentId"`
	UserID     model.UserID `json:"userId"` // the reporting party the document belongs to
	At         time.Time    `json:"at"`
}

// Filter selects events for one collection. An empty UserID matches every
// reporting party.
type Filter struct {
	Collection Collection
	UserID     model.UserID
}

func (f Filter) Matches(e Event) bool {
	if f.Collection != e.Collection {
		return false
	}
	return f.UserID == "" || f.UserID == e.UserID
}

type Handler func(Event)

type Subscription interface {
	Stop()
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Broker interface {
	Publisher
	Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error)
	Close() error
}
