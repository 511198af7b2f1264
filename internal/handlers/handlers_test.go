package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.helpline/internal/blob"
	"uk.co.dudmesh.helpline/internal/boot"
	"uk.co.dudmesh.helpline/internal/feed"
	"uk.co.dudmesh.helpline/internal/model"
	"uk.co.dudmesh.helpline/internal/pipeline"
	"uk.co.dudmesh.helpline/internal/service/account"
	"uk.co.dudmesh.helpline/internal/service/helpline"
	"uk.co.dudmesh.helpline/internal/store"
)

type pipelineFunc func(ctx context.Context, audio []byte) (*pipeline.Result, error)

func (f pipelineFunc) Process(ctx context.Context, audio []byte) (*pipeline.Result, error) {
	return f(ctx, audio)
}

type audioFunc func(ctx context.Context, base64Audio string) (json.RawMessage, error)

func (f audioFunc) ProcessBase64(ctx context.Context, base64Audio string) (json.RawMessage, error) {
	return f(ctx, base64Audio)
}

type testServer struct {
	t      *testing.T
	server *echo.Echo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	config, err := boot.LoadWith(envconfig.MapLookuper(map[string]string{
		"DATA_DIR": t.TempDir(),
	}))
	require.NoError(t, err)

	db, err := store.Open(config.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	accounts, err := account.New(config, db)
	require.NoError(t, err)

	blobs, err := blob.New(config.BlobDirectory(), config.BaseURL)
	require.NoError(t, err)

	broker := feed.NewLocal()
	t.Cleanup(func() { broker.Close() })

	speech := pipelineFunc(func(ctx context.Context, audio []byte) (*pipeline.Result, error) {
		return &pipeline.Result{Transcription: "madad", Translation: "help", Audio: []byte("synth")}, nil
	})
	raw := audioFunc(func(ctx context.Context, base64Audio string) (json.RawMessage, error) {
		return json.RawMessage(`{"pipelineResponse":[]}`), nil
	})

	server := echo.New()
	Routes(server, &Dependencies{
		Accounts: accounts,
		Helpline: helpline.New(db, blobs, speech, broker),
		Audio:    raw,
		Blobs:    blobs,
		Feed:     broker,
	})
	return &testServer{t: t, server: server}
}

func (s *testServer) do(method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) json(method, target, token string, body interface{}) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(data)
	}
	return s.do(method, target, token, r, echo.MIMEApplicationJSON)
}

func (s *testServer) form(target, token string, fields map[string]string, audio []byte) *httptest.ResponseRecorder {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(s.t, w.WriteField(k, v))
	}
	if audio != nil {
		part, err := w.CreateFormFile("audio", "recording.wav")
		require.NoError(s.t, err)
		_, err = part.Write(audio)
		require.NoError(s.t, err)
	}
	require.NoError(s.t, w.Close())
	return s.do(http.MethodPost, target, token, body, w.FormDataContentType())
}

func (s *testServer) signup(email string, role model.Role) (string, *model.User) {
	rec := s.json(http.MethodPost, "/api/auth/signup", "", &model.SignupParams{
		Email:    email,
		Password: "password",
		Name:     strings.Split(email, "@")[0],
		Role:     role,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	res := &tokenResponse{}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), res))
	return res.Token, res.User
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuth(t *testing.T) {
	assert := assert.New(t)
	s := newTestServer(t)

	token, user := s.signup("caller@example.com", model.RoleUser)
	assert.NotEmpty(token)
	assert.Equal(model.RoleUser, user.Role)

	t.Run("Duplicate", func(t *testing.T) {
		rec := s.json(http.MethodPost, "/api/auth/signup", "", &model.SignupParams{
			Email: "caller@example.com", Password: "password", Role: model.RoleUser,
		})
		assert.Equal(http.StatusConflict, rec.Code)
	})

	t.Run("Bad password", func(t *testing.T) {
		rec := s.json(http.MethodPost, "/api/auth/login", "", &model.LoginParams{Email: "caller@example.com", Password: "nope"})
		assert.Equal(http.StatusUnauthorized, rec.Code)
		assert.Contains(rec.Body.String(), model.ErrorInvalidUsernameOrPassword.Error())
	})

	t.Run("Me", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/auth/me", token, nil, "")
		assert.Equal(http.StatusOK, rec.Code)
		me := decode[map[string]interface{}](t, rec)
		assert.Equal("caller@example.com", me["email"])
		assert.NotContains(me, "password")
		assert.NotContains(me, "Password")

		rec = s.do(http.MethodGet, "/api/auth/me", "", nil, "")
		assert.Equal(http.StatusUnauthorized, rec.Code)
	})

	t.Run("JWKS", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/.well-known/jwks.json", "", nil, "")
		assert.Equal(http.StatusOK, rec.Code)
		set := decode[account.KeySet](t, rec)
		assert.Len(set.Keys, 1)
	})

	t.Run("Logout", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/logout", token, nil, "")
		assert.Equal(http.StatusNoContent, rec.Code)

		rec = s.do(http.MethodGet, "/api/auth/me", token, nil, "")
		assert.Equal(http.StatusUnauthorized, rec.Code)
	})

	t.Run("Liveness", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/test", "", nil, "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.JSONEq(`{"message":"Server is running correctly!"}`, rec.Body.String())
	})
}

func TestConversation(t *testing.T) {
	assert := assert.New(t)
	s := newTestServer(t)

	callerToken, caller := s.signup("caller@example.com", model.RoleUser)
	agentToken, _ := s.signup("agent@example.com", model.RoleAgent)

	var message model.Message
	var response model.Response

	t.Run("Submit", func(t *testing.T) {
		rec := s.form("/api/messages", callerToken, map[string]string{
			"latitude":  "28.6139",
			"longitude": "77.2090",
		}, []byte("RIFF"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		message = decode[model.Message](t, rec)
		assert.Equal(model.MessageStatusProcessed, message.Status)
		assert.Equal("help", message.TranslatedText)
		if assert.NotNil(message.Location) {
			assert.Equal(77.209, message.Location.Longitude)
		}

		rec = s.form("/api/messages", callerToken, nil, nil)
		assert.Equal(http.StatusBadRequest, rec.Code)

		rec = s.form("/api/messages", callerToken, map[string]string{"latitude": "north", "longitude": "1"}, []byte("RIFF"))
		assert.Equal(http.StatusBadRequest, rec.Code)
	})

	t.Run("Role checks", func(t *testing.T) {
		rec := s.form("/api/messages", agentToken, nil, []byte("RIFF"))
		assert.Equal(http.StatusForbidden, rec.Code)
		assert.Contains(rec.Body.String(), "You are logged in as a agent, but this page requires a user")

		rec = s.form("/api/messages/"+string(message.ID)+"/responses", callerToken, map[string]string{"text": "hi"}, nil)
		assert.Equal(http.StatusForbidden, rec.Code)
	})

	t.Run("Operator replies", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/messages", agentToken, nil, "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.Len(decode[[]model.Message](t, rec), 1)

		rec = s.form("/api/messages/"+string(message.ID)+"/responses", agentToken, map[string]string{"text": ""}, nil)
		assert.Equal(http.StatusBadRequest, rec.Code)

		rec = s.form("/api/messages/"+string(message.ID)+"/responses", agentToken, map[string]string{"text": "help is coming"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		response = decode[model.Response](t, rec)
		assert.Equal(caller.ID, response.UserID)

		rec = s.do(http.MethodGet, "/api/users/"+string(caller.ID), agentToken, nil, "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.Equal("caller", decode[model.UserInfo](t, rec).Name)
	})

	t.Run("History", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/history", callerToken, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		view := decode[map[string]interface{}](t, rec)
		assert.Equal(true, view["hasUnread"])
		stats := view["stats"].(map[string]interface{})
		assert.Equal(float64(100), stats["responseRate"])
		notifications := view["notifications"].(map[string]interface{})
		assert.Equal(float64(1), notifications["unreadResponses"])

		rec = s.do(http.MethodGet, "/api/responses/unread?limit=3", callerToken, nil, "")
		assert.Len(decode[[]model.Response](t, rec), 1)

		rec = s.do(http.MethodGet, "/api/messages/"+string(message.ID)+"/responses", callerToken, nil, "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.Len(decode[[]model.Response](t, rec), 1)
	})

	t.Run("Mark read", func(t *testing.T) {
		target := "/api/responses/" + string(response.ID) + "/read"
		assert.Equal(http.StatusNoContent, s.do(http.MethodPost, target, callerToken, nil, "").Code)
		assert.Equal(http.StatusNoContent, s.do(http.MethodPost, target, callerToken, nil, "").Code)
		assert.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/responses/missing/read", callerToken, nil, "").Code)

		rec := s.do(http.MethodGet, "/api/history", callerToken, nil, "")
		assert.Equal(false, decode[map[string]interface{}](t, rec)["hasUnread"])

		rec = s.do(http.MethodPost, "/api/messages/"+string(message.ID)+"/read", callerToken, nil, "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.JSONEq(`{"marked":0}`, rec.Body.String())
	})

	t.Run("Blob download", func(t *testing.T) {
		u, err := url.Parse(message.AudioURL)
		require.NoError(t, err)

		rec := s.do(http.MethodGet, u.RequestURI(), "", nil, "")
		assert.Equal(http.StatusOK, rec.Code)
		assert.Equal("RIFF", rec.Body.String())
		etag := rec.Header().Get("ETag")
		assert.NotEmpty(etag)

		req := httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
		req.Header.Set("If-None-Match", etag)
		cached := httptest.NewRecorder()
		s.server.ServeHTTP(cached, req)
		assert.Equal(http.StatusNotModified, cached.Code)

		rec = s.do(http.MethodGet, u.Path+"?token=wrong", "", nil, "")
		assert.Equal(http.StatusForbidden, rec.Code)
	})
}

func TestProcessAudio(t *testing.T) {
	assert := assert.New(t)
	s := newTestServer(t)
	token, _ := s.signup("caller@example.com", model.RoleUser)

	rec := s.json(http.MethodPost, "/api/process-audio", token, map[string]string{})
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.JSONEq(`{"error":"No audio data received"}`, rec.Body.String())

	rec = s.json(http.MethodPost, "/api/process-audio", token, map[string]string{"base64Audio": "UklGRg=="})
	assert.Equal(http.StatusOK, rec.Code)
	assert.JSONEq(`{"pipelineResponse":[]}`, rec.Body.String())
}

type sseEvent struct {
	name string
	data string
}

func readEvents(r io.Reader) <-chan sseEvent {
	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var current sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.data = strings.TrimPrefix(line, "data: ")
			case line == "" && current.name != "":
				events <- current
				current = sseEvent{}
			}
		}
	}()
	return events
}

func waitFor(t *testing.T, events <-chan sseEvent, match func(sseEvent) bool) bool {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			if match(e) {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func TestStreams(t *testing.T) {
	assert := assert.New(t)
	s := newTestServer(t)
	callerToken, _ := s.signup("caller@example.com", model.RoleUser)
	agentToken, _ := s.signup("agent@example.com", model.RoleAgent)

	httpServer := httptest.NewServer(s.server)
	defer httpServer.Close()

	open := func(ctx context.Context, path, token string) *http.Response {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+path+"?token="+token, nil)
		require.NoError(t, err)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal("text/event-stream", res.Header.Get(echo.HeaderContentType))
		return res
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	historyStream := open(ctx, "/api/history/stream", callerToken)
	defer historyStream.Body.Close()
	historyEvents := readEvents(historyStream.Body)

	messageStream := open(ctx, "/api/messages/stream", agentToken)
	defer messageStream.Body.Close()
	messageEvents := readEvents(messageStream.Body)

	assert.True(waitFor(t, historyEvents, func(e sseEvent) bool {
		return e.name == "history" && strings.Contains(e.data, `"messages":[]`)
	}))
	assert.True(waitFor(t, messageEvents, func(e sseEvent) bool {
		return e.name == "messages" && e.data == "[]"
	}))

	rec := s.form("/api/messages", callerToken, nil, []byte("RIFF"))
	require.Equal(t, http.StatusCreated, rec.Code)
	message := decode[model.Message](t, rec)

	assert.True(waitFor(t, messageEvents, func(e sseEvent) bool {
		return strings.Contains(e.data, string(message.ID)) && strings.Contains(e.data, `"status":"processed"`)
	}))

	rec = s.form("/api/messages/"+string(message.ID)+"/responses", agentToken, map[string]string{"text": "on our way"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.True(waitFor(t, historyEvents, func(e sseEvent) bool {
		return strings.Contains(e.data, "on our way") && strings.Contains(e.data, `"hasUnread":true`)
	}))

	t.Run("Operators only", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/messages/stream", callerToken, nil, "")
		assert.Equal(http.StatusForbidden, rec.Code)
	})
}

func TestAuthRateLimiter(t *testing.T) {
	assert := assert.New(t)

	for _, perSecond := range []float64{0.2, 1, 2.5} {
		server := echo.New()
		server.GET("/", Test(), authRateLimiter(perSecond))

		burst := int(math.Ceil(perSecond))
		for i := 0; i < burst; i++ {
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(http.StatusOK, rec.Code, "rate %v request %d", perSecond, i)
		}
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(http.StatusTooManyRequests, rec.Code, "rate %v over burst", perSecond)
	}
}
