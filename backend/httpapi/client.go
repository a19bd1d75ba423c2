package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
)

const maxResponseBytes = 1 << 20

// Client calls a remote authentication API.
type Client struct {
	baseURL string
	http    *http.Client
}

var (
	_ authgate.Backend          = (*Client)(nil)
	_ authgate.PasswordResetter = (*Client)(nil)
)

// NewClient returns a Client rooted at baseURL, e.g. "http://localhost:8080/api".
// A nil httpClient gets a client with the given timeout.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("httpapi: invalid base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(u.String(), "/"), http: httpClient}, nil
}

func (c *Client) CheckUserExists(ctx context.Context, username string) (bool, error) {
	var out existsResponse
	if err := c.do(ctx, http.MethodGet, "/auth/check-user/"+url.PathEscape(username), nil, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *Client) IsPasswordSet(ctx context.Context, username string) (bool, error) {
	var out passwordStatusResponse
	if err := c.do(ctx, http.MethodGet, "/auth/password-status/"+url.PathEscape(username), nil, &out); err != nil {
		return false, err
	}
	return out.PasswordSet, nil
}

func (c *Client) SetPassword(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, "/auth/set-password", credentialsRequest{Username: username, Password: password}, nil)
}

func (c *Client) Login(ctx context.Context, username, password string) (authgate.LoginResult, error) {
	var out loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", credentialsRequest{Username: username, Password: password}, &out); err != nil {
		return authgate.LoginResult{}, err
	}
	if out.Token == "" {
		return authgate.LoginResult{}, &authgate.TransportError{Err: errors.New("login response has no token")}
	}
	if out.Username == "" {
		out.Username = username
	}
	return authgate.LoginResult{
		Token: out.Token,
		User:  authgate.User{ID: out.ID, Username: out.Username, Role: out.Role},
	}, nil
}

func (c *Client) ForgotPassword(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/auth/forgot-password", usernameRequest{Username: username}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	return c.do(ctx, http.MethodPost, "/auth/reset-password", resetPasswordRequest{Token: token, NewPassword: newPassword}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpapi: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("httpapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &authgate.TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &authgate.TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &authgate.TransportError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(status int, body []byte) error {
	var m messageResponse
	_ = json.Unmarshal(body, &m)

	switch status {
	case http.StatusNotFound:
		if m.Message != "" {
			return fmt.Errorf("%w: %s", authgate.ErrUserNotFound, m.Message)
		}
		return authgate.ErrUserNotFound
	case http.StatusUnauthorized:
		if m.Message != "" {
			return fmt.Errorf("%w: %s", authgate.ErrInvalidCredentials, m.Message)
		}
		return authgate.ErrInvalidCredentials
	case http.StatusGone:
		return authgate.ErrResetTokenInvalid
	case http.StatusNotImplemented:
		return authgate.ErrResetUnsupported
	}
	if m.Message != "" {
		return &authgate.TransportError{Err: errors.New(m.Message)}
	}
	return &authgate.TransportError{Err: fmt.Errorf("Server error: %d", status)}
}
