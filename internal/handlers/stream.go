package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.helpline/internal/feed"
	"uk.co.dudmesh.helpline/internal/history"
)

const heartbeatInterval = 15 * time.Second

// writeEvent writes a single server-sent event and flushes it.
func writeEvent(w *echo.Response, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func startStream(c echo.Context) *echo.Response {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()
	return w
}

func heartbeat(w io.Writer) error {
	_, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339))
	return err
}

// notifier coalesces feed events into a single pending signal.
func notifier() (chan struct{}, feed.Handler) {
	changed := make(chan struct{}, 1)
	return changed, func(feed.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
}

// MessageStream pushes the full message list to an operator each time any
// message changes.
func MessageStream(service HelplineService, subscriber Subscriber) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()
		s := session(c)

		changed, handler := notifier()
		sub, err := subscriber.Subscribe(ctx, feed.Filter{Collection: feed.CollectionMessages}, handler)
		if err != nil {
			return fmt.Errorf("subscribing to messages: %w", err)
		}
		defer sub.Stop()

		messages, err := service.Messages(ctx, s)
		if err != nil {
			return err
		}

		w := startStream(c)
		if err := writeEvent(w, "messages", messages); err != nil {
			return nil
		}

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := heartbeat(w); err != nil {
					return nil
				}
				w.Flush()
			case <-changed:
				messages, err := service.Messages(ctx, s)
				if err != nil {
					log.Errorf("refreshing message stream: %v", err)
					continue
				}
				if err := writeEvent(w, "messages", messages); err != nil {
					return nil
				}
			}
		}
	}
}

// HistoryStream keeps a reporting party's history current. Messages and
// responses are re-read independently when either collection changes and
// folded together by a history.Watcher.
func HistoryStream(service HelplineService, subscriber Subscriber) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()
		s := session(c)

		// holds only the latest history; emit never blocks
		updates := make(chan history.History, 1)
		watcher := history.NewWatcher(func(h history.History) {
			select {
			case <-updates:
			default:
			}
			updates <- h
		})

		refreshMessages := func() error {
			messages, err := service.Messages(ctx, s)
			if err != nil {
				return err
			}
			watcher.SetMessages(messages)
			return nil
		}
		refreshResponses := func() error {
			responses, err := service.ResponsesForUser(ctx, s.UserID)
			if err != nil {
				return err
			}
			watcher.SetResponses(responses)
			return nil
		}

		subscribe := func(collection feed.Collection, refresh func() error) (feed.Subscription, error) {
			return subscriber.Subscribe(ctx, feed.Filter{Collection: collection, UserID: s.UserID}, func(feed.Event) {
				if err := refresh(); err != nil && ctx.Err() == nil {
					log.Errorf("refreshing %s for %s: %v", collection, s.UserID, err)
				}
			})
		}

		messageSub, err := subscribe(feed.CollectionMessages, refreshMessages)
		if err != nil {
			return fmt.Errorf("subscribing to messages: %w", err)
		}
		defer messageSub.Stop()
		responseSub, err := subscribe(feed.CollectionResponses, refreshResponses)
		if err != nil {
			return fmt.Errorf("subscribing to responses: %w", err)
		}
		defer responseSub.Stop()

		if err := refreshMessages(); err != nil {
			return err
		}
		if err := refreshResponses(); err != nil {
			return err
		}

		w := startStream(c)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := heartbeat(w); err != nil {
					return nil
				}
				w.Flush()
			case h := <-updates:
				if err := writeEvent(w, "history", history.NewOverview(h)); err != nil {
					return nil
				}
			}
		}
	}
}
