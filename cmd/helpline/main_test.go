package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"uk.co.dudmesh.helpline/internal/history"
	"uk.co.dudmesh.helpline/internal/model"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	assert := assert.New(t)

	out, err := run(t, "version")
	assert.Nil(err)
	assert.Contains(out, "helpline dev")
	assert.Contains(out, "commit: none")
}

func TestRootCmd(t *testing.T) {
	assert := assert.New(t)

	out, err := run(t, "--help")
	assert.Nil(err)
	for _, sub := range []string{"serve", "migrate", "user", "submit", "history", "respond", "messages", "signup", "logout"} {
		assert.Contains(out, sub)
	}

	_, err = run(t, "respond", "only-one-arg")
	assert.NotNil(err)
}

func TestUserCmd(t *testing.T) {
	assert := assert.New(t)
	t.Setenv("DATA_DIR", t.TempDir())

	out, err := run(t, "migrate")
	assert.Nil(err)
	assert.Contains(out, "up to date")

	out, err = run(t, "user", "create", "--email", "agent@example.com", "--password", "password", "--name", "Operator")
	assert.Nil(err)
	assert.Contains(out, "agent@example.com\tagent")

	_, err = run(t, "user", "create", "--email", "agent@example.com", "--password", "password")
	assert.ErrorIs(err, model.ErrorUserExists)

	_, err = run(t, "user", "create", "--email", "x@example.com", "--password", "password", "--role", "admin")
	assert.ErrorIs(err, model.ErrorInvalidRole)

	out, err = run(t, "user", "unlock", "--email", "agent@example.com")
	assert.Nil(err)
	assert.Contains(out, "unlocked agent@example.com")
}

func TestSubmitRequiresCredentials(t *testing.T) {
	t.Setenv("HELPLINE_TOKEN", "")
	t.Setenv("HELPLINE_EMAIL", "")
	t.Setenv("HELPLINE_PASSWORD", "")

	file := t.TempDir() + "/recording.wav"
	assert.Nil(t, writeFile(file, "RIFF"))

	_, err := run(t, "submit", "--file", file, "--lat", "95", "--lon", "0")
	assert.ErrorIs(t, err, model.ErrorInvalidLocation)

	_, err = run(t, "submit", "--file", file)
	if assert.NotNil(t, err) {
		assert.Contains(t, err.Error(), "--email and --password are required")
	}
}

func TestPrintOverview(t *testing.T) {
	assert := assert.New(t)

	sent := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	overview := history.NewOverview(history.Build(
		[]model.Message{{
			ID:                "m1",
			Status:            model.MessageStatusResponded,
			CreatedAt:         sent,
			Location:          &model.Location{Latitude: 28.6139, Longitude: 77.209},
			TranscriptionText: "madad",
			TranslatedText:    "help",
		}},
		[]model.Response{{ID: "r1", MessageID: "m1", Text: "on our way", SentAt: sent.Add(time.Minute)}},
	))

	buf := new(bytes.Buffer)
	printOverview(buf, &overview)
	out := buf.String()
	assert.Contains(out, "28.613900, 77.209000")
	assert.Contains(out, "https://www.google.com/maps?q=28.6139,77.209")
	assert.Contains(out, "translated:  help")
	assert.Contains(out, "* ")
	assert.Contains(out, "on our way")
	assert.Contains(out, "unread replies")
}

func writeFile(name, content string) error {
	return os.WriteFile(name, []byte(content), 0o600)
}

func TestRemoteCmds(t *testing.T) {
	assert := assert.New(t)
	t.Setenv("HELPLINE_TOKEN", "")
	t.Setenv("HELPLINE_EMAIL", "")
	t.Setenv("HELPLINE_PASSWORD", "")

	sent := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	var auths, marked []string
	loggedOut := false

	mux := http.NewServeMux()
	record := func(r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auths = append(auths, r.Header.Get("Authorization"))
	}
	mux.HandleFunc("/api/auth/signup", func(w http.ResponseWriter, r *http.Request) {
		params := &model.SignupParams{}
		json.NewDecoder(r.Body).Decode(params)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token": "tok-signup",
			"user":  &model.User{ID: "u1", Email: params.Email, Name: params.Name, Role: params.Role},
		})
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		mu.Lock()
		loggedOut = true
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode([]model.Message{
			{ID: "m2", Status: model.MessageStatusProcessed, CreatedAt: sent, TranslatedText: "fire"},
			{ID: "m1", Status: model.MessageStatusFailed, CreatedAt: sent, ErrorMessage: model.ProcessingFailedMessage},
		})
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode(history.NewOverview(history.Build(
			[]model.Message{{ID: "m1", Status: model.MessageStatusResponded, CreatedAt: sent}},
			[]model.Response{
				{ID: "r1", MessageID: "m1", Text: "seen", SentAt: sent, IsRead: true},
				{ID: "r2", MessageID: "m1", Text: "new", SentAt: sent.Add(time.Minute)},
			},
		)))
	})
	mux.HandleFunc("/api/responses/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		mu.Lock()
		marked = append(marked, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	t.Run("Signup", func(t *testing.T) {
		out, err := run(t, "signup", "--server", server.URL, "--email", "caller@example.com", "--password", "secret1", "--name", "Caller")
		assert.Nil(err)
		assert.Contains(out, "signed up caller@example.com as user")
		assert.Contains(out, "token: tok-signup")

		_, err = run(t, "signup", "--server", server.URL)
		assert.NotNil(err)
	})

	t.Run("Messages", func(t *testing.T) {
		out, err := run(t, "messages", "--server", server.URL, "--token", "tok-agent")
		assert.Nil(err)
		assert.Contains(out, "m2")
		assert.Contains(out, "translated:  fire")
		assert.Contains(out, "error:       "+model.ProcessingFailedMessage)
	})

	t.Run("History mark read", func(t *testing.T) {
		out, err := run(t, "history", "--server", server.URL, "--token", "tok-signup", "--mark-read")
		assert.Nil(err)
		assert.Contains(out, "marked 1 replies read")
		mu.Lock()
		assert.Equal([]string{"/api/responses/r2/read"}, marked)
		mu.Unlock()
	})

	t.Run("Logout", func(t *testing.T) {
		_, err := run(t, "logout", "--server", server.URL)
		assert.NotNil(err)

		out, err := run(t, "logout", "--server", server.URL, "--token", "tok-signup")
		assert.Nil(err)
		assert.Contains(out, "logged out")
		mu.Lock()
		assert.True(loggedOut)
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	for _, auth := range auths {
		assert.Contains([]string{"Bearer tok-agent", "Bearer tok-signup"}, auth)
	}
}
