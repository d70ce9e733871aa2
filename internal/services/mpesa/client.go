// Package mpesa is a client for the Safaricom Daraja API: OAuth, STK push,
// STK status query and B2C business payments, plus the callback payloads the
// API posts back.
package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"paycore/internal/repositories/cache"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// tokenSkew is how long before expiry a cached token is considered stale.
const tokenSkew = 60 * time.Second

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string

	ShortCode   string
	PassKey     string
	CallbackURL string

	B2CShortCode       string
	InitiatorName      string
	SecurityCredential string
	ResultURL          string
	TimeoutURL         string

	Timeout time.Duration
}

// APIError is a structured rejection returned by the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa: %s (%s, http %d)", e.Message, e.Code, e.Status)
}

// IsRejection reports whether err is a structured rejection from the API, as
// opposed to a transport failure.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	cfg   Config
	store cache.Store
	log   *zap.Logger
	group singleflight.Group
	now   func() time.Time
}

func NewClient(cfg Config, store cache.Store, log *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, store: store, log: log, now: time.Now}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) tokenKey() string {
	return cache.Key("mpesa", "token", c.cfg.ConsumerKey)
}

// Token returns a bearer token, reusing the cached one until shortly before it
// expires.
func (c *Client) Token(ctx context.Context) (string, error) {
	data, ok, err := c.store.Get(ctx, c.tokenKey())
	if err != nil {
		c.log.Warn("token cache read failed", zap.Error(err))
	}
	if ok && len(data) > 0 {
		return string(data), nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	agent := fiber.Get(c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials")
	agent.BasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	agent.Timeout(c.timeout(ctx))
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("mpesa auth request: %w", errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return "", decodeAPIError(code, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("mpesa auth returned no token")
	}
	secs, err := strconv.Atoi(tok.ExpiresIn)
	if err != nil || secs <= 0 {
		secs = 3599
	}
	if ttl := time.Duration(secs)*time.Second - tokenSkew; ttl > 0 {
		if err := c.store.Set(ctx, c.tokenKey(), []byte(tok.AccessToken), ttl); err != nil {
			c.log.Warn("token cache write failed", zap.Error(err))
		}
	}
	return tok.AccessToken, nil
}

// post sends an authenticated JSON request and decodes a 200 response into out.
func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	agent := fiber.Post(c.cfg.BaseURL + path)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	agent.JSON(in)
	agent.Timeout(c.timeout(ctx))
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("mpesa request %s: %w", path, errors.Join(errs...))
	}
	if code == fiber.StatusUnauthorized {
		_ = c.store.Delete(ctx, c.tokenKey())
	}
	if code != fiber.StatusOK {
		return decodeAPIError(code, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) timeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < c.cfg.Timeout {
			return left
		}
	}
	return c.cfg.Timeout
}

type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func decodeAPIError(status int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.ErrorCode == "" {
		return &APIError{Status: status, Code: strconv.Itoa(status), Message: strings.TrimSpace(string(body))}
	}
	return &APIError{Status: status, Code: eb.ErrorCode, Message: eb.ErrorMessage}
}

// timestamp renders t in the API's yyyyMMddHHmmss East Africa format.
func timestamp(t time.Time) string {
	return t.In(eat).Format("20060102150405")
}

var eat = time.FixedZone("EAT", 3*60*60)
