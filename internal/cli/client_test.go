package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bricks/internal/syncq"
)

func TestSendCarriesIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/market/bricks/sell" {
			t.Errorf("path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order":{"id":7}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	out, err := c.Send(context.Background(), "tok", SellCommand(3, 55, 0, "k-1"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotKey != "k-1" || gotAuth != "Bearer tok" {
		t.Fatalf("headers key=%q auth=%q", gotKey, gotAuth)
	}
	if out["order"].(map[string]any)["id"] != float64(7) {
		t.Fatalf("out %v", out)
	}
}

func TestAPIErrorsAndClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"duplicate idempotency key"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Send(context.Background(), "tok", OpenCommand(1, 0, "", "k"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Message != "duplicate idempotency key" {
		t.Fatalf("err %v", err)
	}

	tests := []struct {
		err  error
		want syncq.Outcome
	}{
		{err: err, want: syncq.Applied},
		{err: errors.New("dial tcp: connection refused"), want: syncq.Retry},
		{err: &APIError{Status: 503, Message: "down"}, want: syncq.Retry},
		{err: &APIError{Status: 409, Message: "transaction conflict, retry later"}, want: syncq.Retry},
		{err: &APIError{Status: 409, Message: "insufficient crates"}, want: syncq.Rejected},
		{err: &APIError{Status: 400, Message: "price below floor"}, want: syncq.Rejected},
	}
	for _, tc := range tests {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%v: got %v want %v", tc.err, got, tc.want)
		}
	}
}

func TestCommandPaths(t *testing.T) {
	if p := CancelCommand("buy", 12, "k").Path; p != "/v1/market/bricks/buy-order/cancel/12" {
		t.Fatalf("buy cancel path %s", p)
	}
	if p := CancelCommand("sell", 12, "k").Path; p != "/v1/market/bricks/sell/cancel/12" {
		t.Fatalf("sell cancel path %s", p)
	}
	if _, ok := OpenCommand(1, 0, "", "k").Body["target_skin_id"]; ok {
		t.Fatalf("empty target should be omitted")
	}
	if withSeason("/v1/odds", 2) != "/v1/odds?season=2" || withSeason("/v1/odds", 0) != "/v1/odds" {
		t.Fatalf("withSeason")
	}
}
