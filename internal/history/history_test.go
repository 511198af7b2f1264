package history

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"uk.co.dudmesh.helpline/internal/model"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func message(id string, minutes int, status model.MessageStatus) model.Message {
	return model.Message{
		ID:        model.MessageID(id),
		UserID:    "caller",
		Status:    status,
		CreatedAt: epoch.Add(time.Duration(minutes) * time.Minute),
	}
}

func response(id, messageID string, minutes int, read bool) model.Response {
	return model.Response{
		ID:        model.ResponseID(id),
		MessageID: model.MessageID(messageID),
		AgentID:   "agent",
		UserID:    "caller",
		Text:      "reply " + id,
		SentAt:    epoch.Add(time.Duration(minutes) * time.Minute),
		IsRead:    read,
	}
}

func TestCombine(t *testing.T) {
	assert := assert.New(t)

	messages := []model.Message{
		message("m1", 0, model.MessageStatusResponded),
		message("m2", 5, model.MessageStatusProcessed),
		message("m3", 10, model.MessageStatusUploaded),
	}
	responses := []model.Response{
		response("r3", "m1", 30, false),
		response("r1", "m1", 10, true),
		response("r2", "m2", 20, true),
		response("orphan", "gone", 1, false),
		response("r0", "m1", 10, true),
	}

	entries := Combine(messages, responses)

	t.Run("Newest message first", func(t *testing.T) {
		if assert.Len(entries, 3) {
			assert.Equal(model.MessageID("m3"), entries[0].ID)
			assert.Equal(model.MessageID("m2"), entries[1].ID)
			assert.Equal(model.MessageID("m1"), entries[2].ID)
		}
	})

	t.Run("Foreign key match", func(t *testing.T) {
		for _, e := range entries {
			for _, r := range e.Responses {
				assert.Equal(e.ID, r.MessageID)
			}
		}
		total := 0
		for _, e := range entries {
			total += len(e.Responses)
		}
		// the orphan references no listed message
		assert.Equal(4, total)
		assert.NotNil(entries[0].Responses)
		assert.Empty(entries[0].Responses)
	})

	t.Run("Responses ascending", func(t *testing.T) {
		thread := entries[2].Responses
		if assert.Len(thread, 3) {
			assert.Equal(model.ResponseID("r0"), thread[0].ID)
			assert.Equal(model.ResponseID("r1"), thread[1].ID)
			assert.Equal(model.ResponseID("r3"), thread[2].ID)
		}
	})

	t.Run("Inputs untouched", func(t *testing.T) {
		assert.Equal(model.ResponseID("r3"), responses[0].ID)
		assert.Equal(model.MessageID("m1"), messages[0].ID)
	})
}

func TestCombineOrderIndependent(t *testing.T) {
	assert := assert.New(t)

	messages := []model.Message{
		message("a", 0, model.MessageStatusResponded),
		message("b", 1, model.MessageStatusResponded),
		message("c", 2, model.MessageStatusProcessed),
	}
	responses := []model.Response{
		response("1", "a", 3, false),
		response("2", "a", 4, true),
		response("3", "b", 3, true),
		response("4", "b", 3, false),
		response("5", "c", 9, true),
		response("6", "a", 1, true),
	}
	want := Build(messages, responses)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		ms := append([]model.Message(nil), messages...)
		rs := append([]model.Response(nil), responses...)
		rng.Shuffle(len(ms), func(i, j int) { ms[i], ms[j] = ms[j], ms[i] })
		rng.Shuffle(len(rs), func(i, j int) { rs[i], rs[j] = rs[j], rs[i] })
		assert.Equal(want, Build(ms, rs))
	}

	// idempotent: folding the output back in changes nothing
	var flat []model.Response
	var plain []model.Message
	for _, e := range want.Entries {
		plain = append(plain, e.Message)
		flat = append(flat, e.Responses...)
	}
	assert.Equal(want, Build(plain, flat))
}

func TestHasUnread(t *testing.T) {
	assert := assert.New(t)
	messages := []model.Message{message("m1", 0, model.MessageStatusResponded)}

	assert.False(Build(messages, nil).HasUnread)
	assert.False(Build(messages, []model.Response{response("r1", "m1", 1, true)}).HasUnread)
	assert.True(Build(messages, []model.Response{
		response("r1", "m1", 1, true),
		response("r2", "m1", 2, false),
	}).HasUnread)
	// unread replies to messages outside the snapshot do not count
	assert.False(Build(messages, []model.Response{response("r3", "other", 1, false)}).HasUnread)
}

func TestSummarize(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty", func(t *testing.T) {
		stats := Summarize(nil)
		assert.Equal(0, stats.TotalMessages)
		assert.Equal(0, stats.ResponseRate)
		assert.Equal("N/A", stats.AverageResponseTime)
	})

	t.Run("Mixed", func(t *testing.T) {
		answered := message("m1", 0, model.MessageStatusResponded)
		last := answered.CreatedAt.Add(30 * time.Minute)
		answered.LastResponseAt = &last

		slow := message("m2", 0, model.MessageStatusResponded)
		slowLast := slow.CreatedAt.Add(150 * time.Minute)
		slow.LastResponseAt = &slowLast

		messages := []model.Message{
			answered,
			slow,
			message("m3", 0, model.MessageStatusProcessed),
			message("m4", 0, model.MessageStatusCreated),
			message("m5", 0, model.MessageStatusFailed),
		}
		responses := []model.Response{
			response("r1", "m1", 30, true),
			response("r2", "m2", 150, false),
			response("r3", "m2", 100, true),
		}

		stats := Summarize(Combine(messages, responses))
		assert.Equal(5, stats.TotalMessages)
		assert.Equal(2, stats.RespondedMessages)
		assert.Equal(1, stats.ProcessingMessages)
		assert.Equal(1, stats.PendingMessages)
		assert.Equal(1, stats.FailedMessages)
		assert.Equal(3, stats.TotalResponses)
		assert.Equal(40, stats.ResponseRate)
		assert.Equal("1h 30m", stats.AverageResponseTime)
	})

	t.Run("Under an hour", func(t *testing.T) {
		assert.Equal("12 min", formatMinutes(12.4))
		assert.Equal("1h 0m", formatMinutes(59.6))
	})
}

func TestNotify(t *testing.T) {
	assert := assert.New(t)

	messages := []model.Message{
		message("m1", 0, model.MessageStatusResponded),
		message("m2", 1, model.MessageStatusProcessed),
		message("m3", 2, model.MessageStatusResponded),
	}
	responses := []model.Response{
		response("r1", "m1", 5, false),
		response("r2", "m1", 6, false),
		response("r3", "m3", 7, true),
	}

	n := Notify(Combine(messages, responses))
	assert.Equal(2, n.UnreadResponses)
	assert.Equal(1, n.AwaitingResponse)
	if assert.Len(n.Unread, 1) {
		assert.Equal(model.MessageID("m1"), n.Unread[0].MessageID)
		assert.Equal(2, n.Unread[0].Count)
	}
}

func TestWatcher(t *testing.T) {
	assert := assert.New(t)

	var mu sync.Mutex
	var emitted []History
	w := NewWatcher(func(h History) {
		mu.Lock()
		defer mu.Unlock()
		emitted = append(emitted, h)
	})

	w.SetResponses([]model.Response{response("r1", "m1", 5, false)})
	w.SetMessages([]model.Message{message("m1", 0, model.MessageStatusResponded)})

	if assert.Len(emitted, 2) {
		// responses arrived first; nothing to attach them to yet
		assert.Empty(emitted[0].Entries)
		assert.False(emitted[0].HasUnread)
		assert.True(emitted[1].HasUnread)
		assert.Len(emitted[1].Entries[0].Responses, 1)
	}

	read := response("r1", "m1", 5, true)
	w.SetResponses([]model.Response{read, response("r2", "m1", 2, true)})
	current := w.Current()
	assert.False(current.HasUnread)
	assert.Equal(model.ResponseID("r2"), current.Entries[0].Responses[0].ID)
	assert.Len(emitted, 3)

	t.Run("Concurrent updates", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				w.SetMessages([]model.Message{message("m1", 0, model.MessageStatusResponded)})
			}()
			go func() {
				defer wg.Done()
				w.SetResponses([]model.Response{read})
			}()
		}
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		assert.Len(emitted, 23)
		assert.False(emitted[len(emitted)-1].HasUnread)
	})
}

func TestOverview(t *testing.T) {
	assert := assert.New(t)

	h := Build(
		[]model.Message{message("m1", 0, model.MessageStatusProcessed)},
		[]model.Response{response("r1", "m1", 5, false)},
	)
	overview := NewOverview(h)
	assert.Equal(h, overview.History)
	assert.Equal(1, overview.Stats.TotalMessages)
	assert.Equal(1, overview.Notifications.UnreadResponses)
	assert.Equal(1, overview.Notifications.AwaitingResponse)
}
