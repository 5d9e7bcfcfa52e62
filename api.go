package lockbox

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/twitchtv/twirp"
)

func (s *Server) Handler() http.Handler {
	m := chi.NewMux()
	m.Use(middleware.Recoverer)
	m.Use(middleware.RealIP)
	m.Use(middleware.Logger)
	m.Use(middleware.Heartbeat("/hc"))
	m.Use(cors.AllowAll().Handler)
	m.Use(handleAuth(s.cfg.Issuer, s.cfg.Secret))

	m.Post("/envelopes", s.createEnvelope)
	m.Get("/envelopes/{id}", s.getEnvelope)
	m.Post("/envelopes/{id}/open", s.openEnvelope)
	m.Post("/envelopes/{id}/refund", s.refundEnvelope)
	m.Post("/envelopes/{id}/admin-refund", s.adminRefundEnvelope)

	m.Post("/escrows", s.createEscrow)
	m.Get("/escrows/{id}", s.getEscrow)
	m.Post("/escrows/{id}/claim", s.claimEscrow)
	m.Post("/escrows/{id}/refund", s.refundEscrow)
	m.Post("/escrows/{id}/admin-refund", s.adminRefundEscrow)

	m.Get("/events", s.listEvents)
	m.Post("/accounts/deposit", s.deposit)
	m.Get("/accounts/balance", s.balance)

	return m
}

// index keys cap string components at 255 bytes, so account, asset and
// denom names past that would panic inside the store.
const maxNameLen = 255

func validName(s string) bool {
	return s != "" && len(s) <= maxNameLen
}

func renderJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)

	_ = json.NewEncoder(w).Encode(v)
}

func renderErr(w http.ResponseWriter, err error) {
	_ = twirp.WriteError(w, errToTwirp(err))
}

func errToTwirp(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return twirp.NewError(twirp.InvalidArgument, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		return twirp.NewError(twirp.AlreadyExists, err.Error())
	case errors.Is(err, ErrNotFound):
		return twirp.NewError(twirp.NotFound, err.Error())
	case errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrNotYetExpired),
		errors.Is(err, ErrTransferFailed):
		return twirp.NewError(twirp.FailedPrecondition, err.Error())
	case errors.Is(err, ErrNotRecipient),
		errors.Is(err, ErrInvalidProof),
		errors.Is(err, ErrAuthorizationFailed):
		return twirp.NewError(twirp.PermissionDenied, err.Error())
	case errors.Is(err, ErrPriceStale):
		return twirp.NewError(twirp.Unavailable, err.Error())
	case errors.Is(err, ErrArithmeticFault):
		return twirp.NewError(twirp.Aborted, err.Error())
	default:
		return err
	}
}

func (s *Server) createEnvelope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	var body struct {
		Recipient    string          `json:"recipient"`
		Asset        string          `json:"asset"`
		Amount       decimal.Decimal `json:"amount"`
		Denom        string          `json:"denom"`
		ExpireInSecs int64           `json:"expire_in_secs"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	if !validName(body.Recipient) || !validName(body.Asset) || !validName(body.Denom) {
		renderErr(w, twirp.InvalidArgumentError("body", "recipient, asset and denom are required"))
		return
	}

	if body.ExpireInSecs < 0 || body.ExpireInSecs > math.MaxInt64/int64(time.Second) {
		renderErr(w, twirp.InvalidArgumentError("expire_in_secs", "out of range"))
		return
	}

	env, err := s.engine.CreateEnvelope(ctx, &CreateEnvelopeRequest{
		Creator:   user.ID,
		Recipient: body.Recipient,
		Asset:     body.Asset,
		Amount:    body.Amount,
		Denom:     body.Denom,
		ExpireIn:  time.Duration(body.ExpireInSecs) * time.Second,
	})

	if err != nil {
		slog.Warn("create envelope failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, env)
}

func (s *Server) getEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := s.engine.GetEnvelope(cast.ToUint64(chi.URLParam(r, "id")))
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, env)
}

func (s *Server) openEnvelope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	value, err := s.engine.OpenEnvelope(ctx, user.ID, cast.ToUint64(chi.URLParam(r, "id")))
	if err != nil {
		slog.Warn("open envelope failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]any{
		"value": value,
	})
}

func (s *Server) refundEnvelope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	if err := s.engine.RefundEnvelope(ctx, user.ID, cast.ToUint64(chi.URLParam(r, "id"))); err != nil {
		slog.Warn("refund envelope failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]any{})
}

func (s *Server) adminRefundEnvelope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	if err := s.engine.AdminRefundEnvelope(ctx, user.ID, cast.ToUint64(chi.URLParam(r, "id"))); err != nil {
		slog.Warn("admin refund envelope failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]any{})
}

func (s *Server) createEscrow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	var body struct {
		ID            string          `json:"id"`
		RecipientHash string          `json:"recipient_hash"`
		Asset         string          `json:"asset"`
		Amount        decimal.Decimal `json:"amount"`
		ExpiryHeight  uint64          `json:"expiry_height"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	if !govalidator.IsHash(body.ID, "sha256") {
		renderErr(w, twirp.InvalidArgumentError("id", "must be 32 bytes hex encoded"))
		return
	}

	if !govalidator.IsHash(body.RecipientHash, "sha256") {
		renderErr(w, twirp.InvalidArgumentError("recipient_hash", "must be a sha256 digest"))
		return
	}

	if !validName(body.Asset) {
		renderErr(w, twirp.InvalidArgumentError("asset", "required"))
		return
	}

	esc, err := s.engine.CreateEscrow(ctx, &CreateEscrowRequest{
		ID:            body.ID,
		Depositor:     user.ID,
		RecipientHash: body.RecipientHash,
		Asset:         body.Asset,
		Amount:        body.Amount,
		ExpiryHeight:  body.ExpiryHeight,
	})

	if err != nil {
		slog.Warn("create escrow failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, esc)
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	esc, err := s.engine.GetEscrow(chi.URLParam(r, "id"))
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, esc)
}

func (s *Server) claimEscrow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	var body struct {
		Secret string `json:"secret"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	secret, err := hex.DecodeString(body.Secret)
	if err != nil {
		renderErr(w, twirp.InvalidArgumentError("secret", "must be hex encoded"))
		return
	}

	if err := s.engine.ClaimEscrow(ctx, user.ID, chi.URLParam(r, "id"), secret); err != nil {
		slog.Warn("claim escrow failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]any{})
}

func (s *Server) refundEscrow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	if err := s.engine.RefundEscrow(ctx, user.ID, chi.URLParam(r, "id")); err != nil {
		slog.Warn("refund escrow failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]any{})
}

func (s *Server) adminRefundEscrow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := UserFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	if err := s.engine.AdminRefundEscrow(ctx, user.ID, chi.URLParam(r, "id")); err != nil {
		slog.Warn("admin refund escrow failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]any{})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := cast.ToTime(q.Get("offset"))
	limit := cast.ToInt(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	events, err := ListEvents(s.engine.db, since, limit)
	if err != nil {
		slog.Error("list events failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, events)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := UserFrom(ctx); !ok {
		renderErr(w, twirp.Unauthenticated.Error("auth required"))
		return
	}

	var body struct {
		Account string          `json:"account"`
		Asset   string          `json:"asset"`
		Amount  decimal.Decimal `json:"amount"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	if !validName(body.Account) || !validName(body.Asset) {
		renderErr(w, twirp.InvalidArgumentError("body", "account and asset are required"))
		return
	}

	if err := s.engine.DepositFunds(ctx, body.Asset, body.Account, body.Amount); err != nil {
		slog.Warn("deposit failed", slog.Any("err", err))
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]any{})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	account := q.Get("account")
	asset := q.Get("asset")

	if !validName(account) || !validName(asset) {
		renderErr(w, twirp.InvalidArgumentError("query", "account and asset are required"))
		return
	}

	balance, err := s.engine.GetBalance(asset, account)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]any{
		"asset":   asset,
		"account": account,
		"balance": balance,
	})
}
