// Package handlers exposes the helpline over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"uk.co.dudmesh.helpline/internal/blob"
	"uk.co.dudmesh.helpline/internal/feed"
	"uk.co.dudmesh.helpline/internal/history"
	"uk.co.dudmesh.helpline/internal/model"
	"uk.co.dudmesh.helpline/internal/service/account"
	"uk.co.dudmesh.helpline/internal/service/helpline"
)

type AccountService interface {
	Signup(ctx context.Context, params *model.SignupParams) (*model.User, error)
	Login(ctx context.Context, params *model.LoginParams) (string, *model.User, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*model.Session, error)
	User(ctx context.Context, userID model.UserID) (*model.User, error)
	UserInfo(ctx context.Context, userID model.UserID) (*model.UserInfo, error)
	JWKS() (*account.KeySet, error)
}

type HelplineService interface {
	Submit(ctx context.Context, params *helpline.SubmitParams) (*model.Message, error)
	Process(ctx context.Context, messageID model.MessageID) (*model.Message, error)
	Respond(ctx context.Context, params *helpline.RespondParams) (*model.Response, error)
	MarkRead(ctx context.Context, userID model.UserID, responseID model.ResponseID) error
	MarkMessageRead(ctx context.Context, userID model.UserID, messageID model.MessageID) (int64, error)
	Messages(ctx context.Context, session *model.Session) ([]model.Message, error)
	Responses(ctx context.Context, session *model.Session, messageID model.MessageID) ([]model.Response, error)
	ResponsesForUser(ctx context.Context, userID model.UserID) ([]model.Response, error)
	Unread(ctx context.Context, userID model.UserID, limit int) ([]model.Response, error)
	History(ctx context.Context, userID model.UserID) (history.History, error)
}

// AudioProcessor forwards base64 audio to the speech pipeline untouched.
type AudioProcessor interface {
	ProcessBase64(ctx context.Context, base64Audio string) (json.RawMessage, error)
}

type BlobReader interface {
	Open(key, token string) (io.ReadCloser, *blob.Object, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, filter feed.Filter, handler feed.Handler) (feed.Subscription, error)
}

type Dependencies struct {
	Accounts      AccountService
	Helpline      HelplineService
	Audio         AudioProcessor
	Blobs         BlobReader
	Feed          Subscriber
	AuthRateLimit float64
}

// Routes registers the API on server.
func Routes(server *echo.Echo, deps *Dependencies) {
	server.HTTPErrorHandler = ErrorHandler

	server.GET("/api/test", Test())
	server.GET("/.well-known/jwks.json", JWKS(deps.Accounts))
	server.GET("/blobs/*", Blob(deps.Blobs))

	auth := server.Group("/api/auth")
	if deps.AuthRateLimit > 0 {
		auth.Use(authRateLimiter(deps.AuthRateLimit))
	}
	auth.POST("/signup", Signup(deps.Accounts))
	auth.POST("/login", Login(deps.Accounts))

	authenticated := server.Group("/api", Authenticate(deps.Accounts))
	authenticated.POST("/auth/logout", Logout(deps.Accounts))
	authenticated.GET("/auth/me", Me(deps.Accounts))
	authenticated.POST("/process-audio", ProcessAudio(deps.Audio))

	authenticated.GET("/messages", ListMessages(deps.Helpline))
	authenticated.POST("/messages", SubmitMessage(deps.Helpline), RequireRole(model.RoleUser))
	authenticated.GET("/messages/stream", MessageStream(deps.Helpline, deps.Feed), RequireRole(model.RoleAgent))
	authenticated.GET("/messages/:id/responses", ListResponses(deps.Helpline))
	authenticated.POST("/messages/:id/responses", Respond(deps.Helpline), RequireRole(model.RoleAgent))
	authenticated.POST("/messages/:id/read", MarkMessageRead(deps.Helpline), RequireRole(model.RoleUser))

	authenticated.GET("/history", History(deps.Helpline), RequireRole(model.RoleUser))
	authenticated.GET("/history/stream", HistoryStream(deps.Helpline, deps.Feed), RequireRole(model.RoleUser))
	authenticated.GET("/responses/unread", Unread(deps.Helpline), RequireRole(model.RoleUser))
	authenticated.POST("/responses/:id/read", MarkResponseRead(deps.Helpline), RequireRole(model.RoleUser))

	authenticated.GET("/users/:id", UserInfo(deps.Accounts), RequireRole(model.RoleAgent))
}

// authRateLimiter allows perSecond requests per client. Burst is at least one
// so fractional rates still admit requests.
func authRateLimiter(perSecond float64) echo.MiddlewareFunc {
	return middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     max(1, int(math.Ceil(perSecond))),
		ExpiresIn: 3 * time.Minute,
	}))
}

func Test() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Server is running correctly!"})
	}
}
