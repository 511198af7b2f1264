package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"uk.co.dudmesh.helpline/internal/model"
)

const (
	sessionKey = "session"
	tokenKey   = "token"
)

type tokenResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func Signup(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.SignupParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		ctx := c.Request().Context()
		if _, err := accounts.Signup(ctx, params); err != nil {
			return err
		}
		token, user, err := accounts.Login(ctx, &model.LoginParams{Email: params.Email, Password: params.Password})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, &tokenResponse{Token: token, User: user})
	}
}

func Login(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.LoginParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		token, user, err := accounts.Login(c.Request().Context(), params)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, &tokenResponse{Token: token, User: user})
	}
}

func Logout(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, _ := c.Get(tokenKey).(string)
		if err := accounts.Logout(c.Request().Context(), token); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func Me(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := accounts.User(c.Request().Context(), session(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, user)
	}
}

func JWKS(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		set, err := accounts.JWKS()
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, set)
	}
}

func UserInfo(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		info, err := accounts.UserInfo(c.Request().Context(), model.UserID(c.Param("id")))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, info)
	}
}

// Authenticate accepts a bearer token, or a token query parameter for
// EventSource clients that cannot set headers.
func Authenticate(accounts AccountService) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization + ",query:token",
		AuthScheme: "Bearer",
		Validator: func(token string, c echo.Context) (bool, error) {
			s, err := accounts.Authenticate(c.Request().Context(), token)
			if err != nil {
				if errors.Is(err, model.ErrorInvalidToken) {
					return false, err
				}
				return false, echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
			}
			c.Set(sessionKey, s)
			c.Set(tokenKey, token)
			return true, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return httpErr
			}
			return model.ErrorInvalidToken
		},
	})
}

func RequireRole(role model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s := session(c)
			if s == nil {
				return model.ErrorInvalidToken
			}
			if s.Role != role {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("You are logged in as a %s, but this page requires a %s", s.Role, role))
			}
			return next(c)
		}
	}
}

func session(c echo.Context) *model.Session {
	s, _ := c.Get(sessionKey).(*model.Session)
	return s
}
