package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"zk.share/config"
	"zk.share/internal/access"
	"zk.share/internal/audit"
	"zk.share/internal/crypto"
	"zk.share/internal/models"
	"zk.share/internal/rbac"
	"zk.share/internal/store"
	"zk.share/internal/tier"
)

const (
	headerOrgID  = "X-Org-ID"
	headerUserID = "X-User-ID"
	headerRole   = "X-User-Role"

	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

var errInvalidRequest = errors.New("invalid request")

// forbiddenFields never leave the client. A request carrying one is refused
// before anything is stored.
var forbiddenFields = []string{"key", "encryptionKey", "password", "plaintext"}

type Handler struct {
	store    store.Store
	config   *config.Config
	audit    audit.Logger
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewHandler(s store.Store, cfg *config.Config, auditLog audit.Logger, log *zap.Logger, now func() time.Time) *Handler {
	return &Handler{
		store:    s,
		config:   cfg,
		audit:    auditLog,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      now,
	}
}

type CreateRequest struct {
	Envelope   *crypto.Envelope `json:"envelope" validate:"required"`
	MaxViews   *int             `json:"maxViews,omitempty" validate:"omitempty,min=1"`
	ExpiresIn  *string          `json:"expiresIn,omitempty" validate:"omitempty,max=16"`
	BurnOnRead bool             `json:"burnOnRead"`
}

type CreateResponse struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	MaxViews   *int       `json:"maxViews"`
	BurnOnRead bool       `json:"burnOnRead"`
}

type UpdateRequest struct {
	MaxViews   *int    `json:"maxViews,omitempty" validate:"omitempty,min=1"`
	ExpiresIn  *string `json:"expiresIn,omitempty" validate:"omitempty,max=16"`
	BurnOnRead *bool   `json:"burnOnRead,omitempty"`
}

type RevealResponse struct {
	Envelope       crypto.Envelope `json:"envelope"`
	ViewsRemaining *int            `json:"viewsRemaining,omitempty"`
	BurnOnRead     bool            `json:"burnOnRead"`
}

type StatusResponse struct {
	ID             string       `json:"id"`
	State          access.State `json:"state"`
	CanView        bool         `json:"canView"`
	Reason         string       `json:"reason,omitempty"`
	ViewCount      int          `json:"viewCount"`
	MaxViews       *int         `json:"maxViews"`
	ViewsRemaining *int         `json:"viewsRemaining"`
	ExpiresAt      *time.Time   `json:"expiresAt"`
	BurnOnRead     bool         `json:"burnOnRead"`
	Protected      bool         `json:"passwordProtected"`
	CreatedAt      time.Time    `json:"createdAt"`
	DeletedAt      *time.Time   `json:"deletedAt,omitempty"`
}

type ValidateRequest struct {
	Feature tier.Feature `json:"feature" validate:"required"`
	Value   any          `json:"value"`
}

type TierResponse struct {
	Tier         tier.Tier          `json:"tier"`
	Name         string             `json:"name"`
	Capabilities tier.CapabilitySet `json:"capabilities"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// identity is the caller as asserted by the upstream auth proxy.
type identity struct {
	UserID string
	Role   rbac.Role
	Org    *models.Organization
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn("store ping failed", zap.Error(err))
		h.json(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(w, r)
	if !ok {
		return
	}
	if !rbac.PermissionsFor(id.Role, false).CanCreate {
		h.error(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	var req CreateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Envelope.Validate(); err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Envelope.Ciphertext) > h.config.Secrets.MaxCiphertextBytes {
		h.error(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("ciphertext exceeds %d bytes", h.config.Secrets.MaxCiphertextBytes))
		return
	}

	t := id.Org.Tier
	for _, check := range []tier.Result{
		tier.ValidateUsage(t, tier.FeatureBurnOnRead, req.BurnOnRead),
		tier.ValidateUsage(t, tier.FeatureMaxViews, req.MaxViews),
	} {
		if !check.Valid {
			h.error(w, http.StatusForbidden, check.Message)
			return
		}
	}

	now := h.now()
	option := h.config.Secrets.DefaultExpiry
	if req.ExpiresIn != nil {
		option = *req.ExpiresIn
	}
	expiresAt, err := access.CalculateExpiration(option, now)
	if err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}

	secret := &models.Secret{
		ID:         uuid.NewString(),
		OrgID:      id.Org.ID,
		CreatorID:  id.UserID,
		Envelope:   *req.Envelope,
		MaxViews:   tier.EffectiveMaxViews(t, req.MaxViews),
		ExpiresAt:  expiresAt,
		BurnOnRead: req.BurnOnRead,
		State:      access.Active,
		CreatedAt:  now.UTC(),
	}

	if err := h.store.Save(r.Context(), secret); err != nil {
		h.handleStoreError(w, r, secret.ID, err)
		return
	}
	h.record(r, secret.OrgID, secret.ID, audit.ActionShare)

	h.json(w, http.StatusCreated, CreateResponse{
		ID:         secret.ID,
		URL:        h.config.Server.BaseURL + "/s/" + secret.ID,
		ExpiresAt:  secret.ExpiresAt,
		MaxViews:   secret.MaxViews,
		BurnOnRead: secret.BurnOnRead,
	})
}

// RevealSecret is the only call that consumes a view. Recipients hold a link,
// not an account, so no identity headers are required.
func (h *Handler) RevealSecret(w http.ResponseWriter, r *http.Request) {
	secretID := chi.URLParam(r, "id")

	current, err := h.store.Get(r.Context(), secretID)
	if err != nil {
		h.handleStoreError(w, r, secretID, err)
		return
	}
	if org, ok := h.config.Organizations.Lookup(current.OrgID); ok && !org.AllowsIP(clientIP(r)) {
		h.error(w, http.StatusForbidden, "access from this address is not allowed")
		return
	}

	decision, secret, err := h.store.RecordView(r.Context(), secretID, h.now())
	if err != nil {
		h.handleStoreError(w, r, secretID, err)
		return
	}
	if !decision.CanView {
		h.error(w, http.StatusGone, decision.Reason)
		return
	}
	h.record(r, secret.OrgID, secret.ID, audit.ActionView)

	h.json(w, http.StatusOK, RevealResponse{
		Envelope:       secret.Envelope,
		ViewsRemaining: access.ViewsRemaining(secret.Counters()),
		BurnOnRead:     secret.BurnOnRead,
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(w, r)
	if !ok {
		return
	}
	secret, ok := h.loadOwned(w, r, id)
	if !ok {
		return
	}
	h.json(w, http.StatusOK, h.status(secret))
}

func (h *Handler) UpdateSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(w, r)
	if !ok {
		return
	}
	secret, ok := h.loadOwned(w, r, id)
	if !ok {
		return
	}
	if !rbac.PermissionsFor(id.Role, secret.CreatorID == id.UserID).CanEdit {
		h.error(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	var req UpdateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxViews == nil && req.ExpiresIn == nil && req.BurnOnRead == nil {
		h.error(w, http.StatusBadRequest, "nothing to update")
		return
	}

	t := id.Org.Tier
	for _, check := range []tier.Result{
		tier.ValidateUsage(t, tier.FeatureBurnOnRead, req.BurnOnRead),
		tier.ValidateUsage(t, tier.FeatureMaxViews, req.MaxViews),
	} {
		if !check.Valid {
			h.error(w, http.StatusForbidden, check.Message)
			return
		}
	}

	now := h.now()
	var expiresAt *time.Time
	if req.ExpiresIn != nil {
		var err error
		if expiresAt, err = access.CalculateExpiration(*req.ExpiresIn, now); err != nil {
			h.error(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	updated, err := h.store.Update(r.Context(), secret.ID, now, func(s *models.Secret) error {
		if req.MaxViews != nil {
			if *req.MaxViews <= s.ViewCount {
				return errors.Wrapf(errInvalidRequest,
					"maxViews must be greater than the current view count (%d)", s.ViewCount)
			}
			n := *req.MaxViews
			s.MaxViews = &n
		}
		if req.ExpiresIn != nil {
			s.ExpiresAt = expiresAt
		}
		if req.BurnOnRead != nil {
			if *req.BurnOnRead && !s.BurnOnRead && s.ViewCount > 0 {
				return errors.Wrapf(errInvalidRequest,
					"burnOnRead cannot be enabled after the secret has been viewed (%d)", s.ViewCount)
			}
			s.BurnOnRead = *req.BurnOnRead
		}
		return nil
	})
	if err != nil {
		h.handleStoreError(w, r, secret.ID, err)
		return
	}
	h.record(r, updated.OrgID, updated.ID, audit.ActionEdit)

	h.json(w, http.StatusOK, h.status(updated))
}

func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(w, r)
	if !ok {
		return
	}
	secret, ok := h.loadOwned(w, r, id)
	if !ok {
		return
	}
	if !rbac.PermissionsFor(id.Role, secret.CreatorID == id.UserID).CanDelete {
		h.error(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	if _, err := h.store.Delete(r.Context(), secret.ID, h.now()); err != nil {
		h.handleStoreError(w, r, secret.ID, err)
		return
	}
	h.record(r, secret.OrgID, secret.ID, audit.ActionDelete)

	w.WriteHeader(http.StatusNoContent)
}

// ListAccessEvents returns the caller organization's events inside its
// tier's retention window. Owners and admins only.
func (h *Handler) ListAccessEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(w, r)
	if !ok {
		return
	}
	if id.Role.Rank() < rbac.Admin.Rank() {
		h.error(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	filter := &audit.Filter{
		OrgID:    id.Org.ID,
		SecretID: r.URL.Query().Get("secretId"),
		Limit:    limit,
	}
	if days := tier.CeilingFor(id.Org.Tier, tier.LimitAuditLogDays); days != nil {
		filter.Since = h.now().AddDate(0, 0, -*days)
	}

	events, err := h.store.QueryAccessEvents(r.Context(), filter)
	if err != nil {
		h.handleStoreError(w, r, "", err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	h.json(w, http.StatusOK, events)
}

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	out := make([]TierResponse, 0, len(tier.All()))
	for _, t := range tier.All() {
		out = append(out, tierResponse(t))
	}
	h.json(w, http.StatusOK, out)
}

func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	t, err := tier.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		h.error(w, http.StatusNotFound, "unknown tier")
		return
	}
	h.json(w, http.StatusOK, tierResponse(t))
}

// ValidateUsage answers whether a tier allows a feature choice without
// persisting anything.
func (h *Handler) ValidateUsage(w http.ResponseWriter, r *http.Request) {
	t, err := tier.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		h.error(w, http.StatusNotFound, "unknown tier")
		return
	}

	var req ValidateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.json(w, http.StatusOK, tier.ValidateUsage(t, req.Feature, req.Value))
}

// identify resolves the identity headers. A missing org means the configured
// default; a missing role means member.
func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (identity, bool) {
	orgID := r.Header.Get(headerOrgID)
	if orgID == "" {
		orgID = h.config.Organizations.Default
	}
	org, ok := h.config.Organizations.Lookup(orgID)
	if !ok {
		h.error(w, http.StatusForbidden, "unknown organization")
		return identity{}, false
	}

	role := rbac.Member
	if v := r.Header.Get(headerRole); v != "" {
		parsed, err := rbac.ParseRole(v)
		if err != nil {
			h.error(w, http.StatusBadRequest, "invalid role")
			return identity{}, false
		}
		role = parsed
	}

	userID := r.Header.Get(headerUserID)
	if userID == "" {
		userID = "anonymous"
	}
	return identity{UserID: userID, Role: role, Org: org}, true
}

// loadOwned fetches a secret that belongs to the caller's organization.
// Secrets of other organizations look like missing ones.
func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request, id identity) (*models.Secret, bool) {
	secretID := chi.URLParam(r, "id")
	secret, err := h.store.Get(r.Context(), secretID)
	if err == nil && secret.OrgID != id.Org.ID {
		err = store.ErrNotFound
	}
	if err != nil {
		h.handleStoreError(w, r, secretID, err)
		return nil, false
	}
	return secret, true
}

func (h *Handler) status(s *models.Secret) StatusResponse {
	d, settled := access.Settle(s.Counters(), h.now())
	return StatusResponse{
		ID:             s.ID,
		State:          settled.State,
		CanView:        d.CanView,
		Reason:         d.Reason,
		ViewCount:      s.ViewCount,
		MaxViews:       s.MaxViews,
		ViewsRemaining: access.ViewsRemaining(settled),
		ExpiresAt:      s.ExpiresAt,
		BurnOnRead:     s.BurnOnRead,
		Protected:      s.Envelope.PasswordProtected(),
		CreatedAt:      s.CreatedAt,
		DeletedAt:      s.DeletedAt,
	}
}

func tierResponse(t tier.Tier) TierResponse {
	return TierResponse{Tier: t, Name: t.DisplayName(), Capabilities: tier.CapabilitiesFor(t)}
}

// record writes an access event. Failures are logged, never surfaced: the
// operation itself already succeeded.
func (h *Handler) record(r *http.Request, orgID, secretID string, action audit.Action) {
	event := audit.NewEvent(orgID, secretID, action, clientIP(r), r.UserAgent())
	event.AccessedAt = h.now().UTC()
	if err := h.audit.LogEvent(r.Context(), event); err != nil {
		h.log.Error("failed to record access event",
			zap.Error(err),
			zap.String("action", string(action)),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	}
}

// decode reads a JSON body into dst, refusing key material and unknown fields.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	limit := int64(h.config.Secrets.MaxCiphertextBytes) + 64<<10
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return errors.Wrap(errInvalidRequest, "request body too large or unreadable")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return errors.Wrap(errInvalidRequest, "invalid request body")
	}
	if err := rejectKeyMaterial(raw); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(errInvalidRequest, "invalid request body")
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.Wrapf(errInvalidRequest, "%s failed on %s", fe.Field(), fe.Tag())
		}
		return errors.Wrap(errInvalidRequest, "invalid request body")
	}
	return nil
}

func rejectKeyMaterial(raw map[string]json.RawMessage) error {
	check := func(fields map[string]json.RawMessage) error {
		for _, f := range forbiddenFields {
			if _, ok := fields[f]; ok {
				return errors.Wrapf(errInvalidRequest, "field %q is not accepted: keys never leave the client", f)
			}
		}
		return nil
	}
	if err := check(raw); err != nil {
		return err
	}
	if env, ok := raw["envelope"]; ok {
		var nested map[string]json.RawMessage
		if json.Unmarshal(env, &nested) == nil {
			return check(nested)
		}
	}
	return nil
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) handleStoreError(w http.ResponseWriter, r *http.Request, secretID string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.error(w, http.StatusNotFound, "secret not found")
	case errors.Is(err, store.ErrGone):
		h.error(w, http.StatusGone, h.goneReason(r, secretID))
	case errors.Is(err, errInvalidRequest):
		h.error(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("store error",
			zap.Error(err),
			zap.String("secret_id", secretID),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}

// goneReason reports why a record is no longer available.
func (h *Handler) goneReason(r *http.Request, secretID string) string {
	secret, err := h.store.Get(r.Context(), secretID)
	if err != nil || !secret.State.Terminal() {
		return access.ReasonDeleted
	}
	return secret.State.Reason()
}
