// Package client talks to a running helpline server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"uk.co.dudmesh.helpline/internal/history"
	"uk.co.dudmesh.helpline/internal/model"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// WithToken returns a copy of the client that authenticates as token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{StatusCode: res.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

type session struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Login returns a client authenticated as the given account.
func (c *Client) Login(ctx context.Context, email, password string) (*Client, *model.User, error) {
	s := &session{}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", &model.LoginParams{Email: email, Password: password}, s)
	if err != nil {
		return nil, nil, err
	}
	return c.WithToken(s.Token), s.User, nil
}

func (c *Client) Signup(ctx context.Context, params *model.SignupParams) (*Client, *model.User, error) {
	s := &session{}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/signup", params, s); err != nil {
		return nil, nil, err
	}
	return c.WithToken(s.Token), s.User, nil
}

// Logout revokes the client's token on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, "", nil)
}

// Submit uploads a recording, optionally tagged with a location, and waits
// for the server to process it.
func (c *Client) Submit(ctx context.Context, audio []byte, loc *model.Location) (*model.Message, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if loc != nil {
		if err := w.WriteField("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64)); err != nil {
			return nil, fmt.Errorf("writing latitude: %w", err)
		}
		if err := w.WriteField("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64)); err != nil {
			return nil, fmt.Errorf("writing longitude: %w", err)
		}
	}
	part, err := w.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return nil, fmt.Errorf("creating form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("writing audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	message := &model.Message{}
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, w.FormDataContentType(), message); err != nil {
		return nil, err
	}
	return message, nil
}

func (c *Client) Messages(ctx context.Context) ([]model.Message, error) {
	var messages []model.Message
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) History(ctx context.Context) (*history.Overview, error) {
	overview := &history.Overview{}
	if err := c.doJSON(ctx, http.MethodGet, "/api/history", nil, overview); err != nil {
		return nil, err
	}
	return overview, nil
}

// Respond sends a text reply to a message.
func (c *Client) Respond(ctx context.Context, messageID model.MessageID, text string) (*model.Response, error) {
	form := url.Values{"text": {text}}
	response := &model.Response{}
	err := c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(string(messageID))+"/responses",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", response)
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) MarkRead(ctx context.Context, responseID model.ResponseID) error {
	return c.do(ctx, http.MethodPost, "/api/responses/"+url.PathEscape(string(responseID))+"/read", nil, "", nil)
}
