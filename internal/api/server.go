package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bricks/internal/auth"
	"bricks/internal/game"
	"bricks/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Admin  bool
	Token  string
}

// TokenVerifier resolves a bearer token to the caller's identity.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (auth.Identity, error)
}

type Server struct {
	log      *slog.Logger
	verifier TokenVerifier
	sessions *auth.SupabaseClient
	metrics  http.Handler
	game     *game.Service
	mux      *chi.Mux
}

type Option func(*Server)

// WithSessions mounts the signup and login endpoints backed by Supabase.
func WithSessions(c *auth.SupabaseClient) Option {
	return func(s *Server) { s.sessions = c }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func New(logger *slog.Logger, verifier TokenVerifier, gameSvc *game.Service, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:      logger,
		verifier: verifier,
		game:     gameSvc,
		mux:      chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if s.sessions != nil {
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/wallet", s.handleWallet)
			r.Get("/seasons", s.handleSeasons)
			r.Get("/odds", s.handleOdds)
			r.Post("/gacha/open", s.handleOpen)

			r.Get("/market/bricks/book", s.handleBook)
			r.Get("/market/bricks/history", s.handleHistory)
			r.Post("/market/bricks/sell", s.handleSell)
			r.Post("/market/bricks/sell/cancel/{id}", s.handleSellCancel)
			r.Post("/market/bricks/buy-order", s.handleBuyOrder)
			r.Post("/market/bricks/buy-order/cancel/{id}", s.handleBuyOrderCancel)
			r.Post("/shop/buy-bricks", s.handleShopBuy)

			r.Post("/admin/seasons", s.handleCreateSeason)
			r.Post("/admin/grants", s.handleGrant)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.verifier.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		if err := s.game.EnsureAccount(r.Context(), id.ID, id.Email, id.Admin); err != nil {
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: id.ID,
			Email:  id.Email,
			Admin:  id.Admin,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.sessions.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.User.ID != "" {
		id := s.sessions.Identity(session.User)
		if err := s.game.EnsureAccount(r.Context(), id.ID, id.Email, id.Admin); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.sessions.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id := s.sessions.Identity(session.User)
	if err := s.game.EnsureAccount(r.Context(), id.ID, id.Email, id.Admin); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Wallet(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSeasons(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Seasons(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seasons": out})
}

func (s *Server) handleOdds(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	season, err := seasonParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Odds(r.Context(), user.UserID, season)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOddsResponse(out))
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Count        int             `json:"count"`
		Season       ledger.SeasonID `json:"season"`
		TargetSkinID string          `json:"target_skin_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.OpenCrates(r.Context(), game.OpenInput{
		AccountID:      user.UserID,
		Count:          in.Count,
		Season:         in.Season,
		TargetSkinID:   strings.TrimSpace(in.TargetSkinID),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOpenResponse(out))
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	season, err := seasonParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.BookSnapshot(r.Context(), user.UserID, season)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookResponse(out))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	out, err := s.game.TradeHistory(r.Context(), user.UserID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Quantity int64           `json:"quantity"`
		Price    int64           `json:"price"`
		Season   ledger.SeasonID `json:"season"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.PlaceSellOrder(r.Context(), game.SellInput{
		AccountID:      user.UserID,
		Quantity:       in.Quantity,
		Price:          in.Price,
		Season:         in.Season,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleSellCancel(w http.ResponseWriter, r *http.Request) {
	s.handleCancel(w, r, s.game.CancelSellOrder)
}

func (s *Server) handleBuyOrderCancel(w http.ResponseWriter, r *http.Request) {
	s.handleCancel(w, r, s.game.CancelBuyOrder)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, cancel func(context.Context, game.CancelInput) (game.CancelResult, error)) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	out, err := cancel(r.Context(), game.CancelInput{
		AccountID:      user.UserID,
		OrderID:        orderID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuyOrder(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Quantity    int64           `json:"quantity"`
		TargetPrice int64           `json:"target_price"`
		Season      ledger.SeasonID `json:"season"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.PlaceBuyOrder(r.Context(), game.BidInput{
		AccountID:      user.UserID,
		Quantity:       in.Quantity,
		TargetPrice:    in.TargetPrice,
		Season:         in.Season,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleShopBuy(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Count    int64           `json:"count"`
		Season   ledger.SeasonID `json:"season"`
		MaxPrice int64           `json:"max_price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.BuyBricks(r.Context(), game.ShopInput{
		AccountID:      user.UserID,
		Count:          in.Count,
		Season:         in.Season,
		MaxPrice:       in.MaxPrice,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSeason(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.CreateSeason(r.Context(), game.SeasonInput{
		ActorID:        user.UserID,
		Name:           in.Name,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		AccountID     string          `json:"account_id"`
		Coins         int64           `json:"coins"`
		GiftCoins     int64           `json:"gift_coins"`
		Tokens        int64           `json:"tokens"`
		Crates        int64           `json:"crates"`
		GiftCrates    int64           `json:"gift_crates"`
		Season        ledger.SeasonID `json:"season"`
		SellLockQuota int64           `json:"sell_lock_quota"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Grant(r.Context(), game.GrantInput{
		ActorID:        user.UserID,
		AccountID:      strings.TrimSpace(in.AccountID),
		Coins:          in.Coins,
		GiftCoins:      in.GiftCoins,
		Tokens:         in.Tokens,
		Crates:         in.Crates,
		GiftCrates:     in.GiftCrates,
		Season:         in.Season,
		SellLockQuota:  in.SellLockQuota,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func seasonParam(r *http.Request) (ledger.SeasonID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("season"))
	if raw == "" {
		return ledger.UnassignedSeason, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid season %q", raw)
	}
	return ledger.SeasonID(v), nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrDuplicateIdempotency), errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrUnauthorized), errors.Is(err, game.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInsufficientResource):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrNotFound), errors.Is(err, game.ErrStaleOrder):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
