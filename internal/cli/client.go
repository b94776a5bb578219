package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bricks/internal/auth"
	"bricks/internal/syncq"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Wallet(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/v1/wallet", accessToken, nil, "")
}

func (c *Client) Odds(ctx context.Context, accessToken string, season int64) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, withSeason("/v1/odds", season), accessToken, nil, "")
}

func (c *Client) Book(ctx context.Context, accessToken string, season int64) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, withSeason("/v1/market/bricks/book", season), accessToken, nil, "")
}

func (c *Client) History(ctx context.Context, accessToken string, limit int) (map[string]any, error) {
	path := "/v1/market/bricks/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return c.Do(ctx, http.MethodGet, path, accessToken, nil, "")
}

// Write commands are built as syncq.Command values so a failed send can be
// queued and replayed verbatim.

func OpenCommand(count int, season int64, target, idem string) syncq.Command {
	body := map[string]any{"count": count, "season": season}
	if target != "" {
		body["target_skin_id"] = target
	}
	return syncq.Command{Method: http.MethodPost, Path: "/v1/gacha/open", Body: body, IdempotencyKey: idem}
}

func SellCommand(qty, price, season int64, idem string) syncq.Command {
	return syncq.Command{Method: http.MethodPost, Path: "/v1/market/bricks/sell", Body: map[string]any{
		"quantity": qty,
		"price":    price,
		"season":   season,
	}, IdempotencyKey: idem}
}

func BidCommand(qty, target, season int64, idem string) syncq.Command {
	return syncq.Command{Method: http.MethodPost, Path: "/v1/market/bricks/buy-order", Body: map[string]any{
		"quantity":     qty,
		"target_price": target,
		"season":       season,
	}, IdempotencyKey: idem}
}

func CancelCommand(side string, orderID int64, idem string) syncq.Command {
	path := "/v1/market/bricks/sell/cancel/"
	if side == "buy" {
		path = "/v1/market/bricks/buy-order/cancel/"
	}
	return syncq.Command{Method: http.MethodPost, Path: path + url.PathEscape(strconv.FormatInt(orderID, 10)), IdempotencyKey: idem}
}

func ShopCommand(count, maxPrice, season int64, idem string) syncq.Command {
	return syncq.Command{Method: http.MethodPost, Path: "/v1/shop/buy-bricks", Body: map[string]any{
		"count":     count,
		"max_price": maxPrice,
		"season":    season,
	}, IdempotencyKey: idem}
}

func GrantCommand(body map[string]any, idem string) syncq.Command {
	return syncq.Command{Method: http.MethodPost, Path: "/v1/admin/grants", Body: body, IdempotencyKey: idem}
}

func SeasonCommand(name, idem string) syncq.Command {
	return syncq.Command{Method: http.MethodPost, Path: "/v1/admin/seasons", Body: map[string]any{"name": name}, IdempotencyKey: idem}
}

func (c *Client) Send(ctx context.Context, accessToken string, cmd syncq.Command) (map[string]any, error) {
	return c.Do(ctx, cmd.Method, cmd.Path, accessToken, cmd.Body, cmd.IdempotencyKey)
}

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, accessToken, in, &out, idem)
	return out, err
}

// Classify sorts a send error for the offline queue. Transport failures are
// retried; a duplicate idempotency key means an earlier attempt landed.
func Classify(err error) syncq.Outcome {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return syncq.Retry
	}
	switch {
	case apiErr.Status == http.StatusConflict && strings.Contains(apiErr.Message, "idempotency"):
		return syncq.Applied
	case apiErr.Status == http.StatusConflict && strings.Contains(apiErr.Message, "transaction conflict"):
		return syncq.Retry
	case apiErr.Status >= 500, apiErr.Status == http.StatusUnauthorized:
		return syncq.Retry
	default:
		return syncq.Rejected
	}
}

func withSeason(path string, season int64) string {
	if season <= 0 {
		return path
	}
	return path + "?season=" + strconv.FormatInt(season, 10)
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
