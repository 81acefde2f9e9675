package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/i18n"
	"github.com/matt-riley/yomu/internal/metrics"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

type adminContextKey string

const (
	sessionContextKey   adminContextKey = "admin_session"
	adminUserContextKey adminContextKey = "admin_user"
)

const (
	auditLogPageSize       = 50
	validationSourceAdmin  = "admin"
	minUsernameLength      = 3
	maxUsernameLength      = 50
	minPasswordLength      = 12
	uniqueViolationSQLCode = "23505"
)

// Store is the persistence the portal needs besides the catalog.
type Store interface {
	HasAdminUsers(ctx context.Context) (bool, error)
	CreateAdminUser(ctx context.Context, username, passwordHash, role string) (repository.AdminUser, error)
	GetAdminUserByUsername(ctx context.Context, username string) (repository.AdminUser, error)
	GetAdminUserByID(ctx context.Context, id string) (repository.AdminUser, error)
	CreateAPIKey(ctx context.Context, name string) (string, string, error)
	ListAPIKeys(ctx context.Context) ([]repository.APIKeyMeta, error)
	DeleteAPIKey(ctx context.Context, keyID string) error
	InsertAuditLog(ctx context.Context, entry repository.AuditLogEntry) error
	ListAuditLog(ctx context.Context, limit, offset int) ([]repository.AuditLogEntry, error)
}

// Catalog is the slice of the benefit service the portal edits.
type Catalog interface {
	CreateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	UpdateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	GetBrand(ctx context.Context, id string) (repository.Brand, error)
	ListBrands(ctx context.Context) ([]repository.Brand, error)
	DeleteBrand(ctx context.Context, id string) error
	CreateBenefit(ctx context.Context, in service.BenefitInput) (repository.Benefit, error)
	UpdateBenefit(ctx context.Context, in service.BenefitInput) (repository.Benefit, error)
	GetBenefit(ctx context.Context, id string) (repository.Benefit, error)
	ListBenefits(ctx context.Context, brandID string) ([]repository.Benefit, error)
	DeleteBenefit(ctx context.Context, id string) error
}

type Handler struct {
	store      Store
	catalog    Catalog
	sessionMgr *SessionManager
	translator *i18n.Translator
	metrics    *metrics.Metrics
	log        *slog.Logger
	mux        *http.ServeMux
}

type Option func(*Handler)

// WithTranslator localizes validity rule labels in the benefit forms.
func WithTranslator(translator *i18n.Translator) Option {
	return func(h *Handler) {
		h.translator = translator
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func NewHandler(store Store, catalog Catalog, sessionMgr *SessionManager, log *slog.Logger, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		store:      store,
		catalog:    catalog,
		sessionMgr: sessionMgr,
		log:        log,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.mux = h.buildMux()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /setup", h.handleSetupForm)
	mux.HandleFunc("POST /setup", h.handleSetup)
	mux.HandleFunc("GET /login", h.handleLoginForm)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /logout", h.handleLogout)

	// Protected routes
	mux.HandleFunc("GET /{$}", h.requireAuth(h.handleDashboard))
	mux.HandleFunc("POST /brands", h.requireAuth(h.requireAdmin(h.handleCreateBrand)))
	mux.HandleFunc("GET /brands/{id}", h.requireAuth(h.handleBrandDetail))
	mux.HandleFunc("POST /brands/{id}", h.requireAuth(h.requireAdmin(h.handleUpdateBrand)))
	mux.HandleFunc("POST /brands/{id}/delete", h.requireAuth(h.requireAdmin(h.handleDeleteBrand)))
	mux.HandleFunc("POST /brands/{id}/benefits", h.requireAuth(h.requireAdmin(h.handleCreateBenefit)))
	mux.HandleFunc("GET /benefits/{id}/edit", h.requireAuth(h.handleEditBenefit))
	mux.HandleFunc("POST /benefits/{id}", h.requireAuth(h.requireAdmin(h.handleUpdateBenefit)))
	mux.HandleFunc("POST /benefits/{id}/delete", h.requireAuth(h.requireAdmin(h.handleDeleteBenefit)))
	mux.HandleFunc("GET /api-keys", h.requireAuth(h.handleAPIKeys))
	mux.HandleFunc("POST /api-keys", h.requireAuth(h.requireAdmin(h.handleCreateAPIKey)))
	mux.HandleFunc("POST /api-keys/{id}/delete", h.requireAuth(h.requireAdmin(h.handleDeleteAPIKey)))
	mux.HandleFunc("GET /audit-log", h.requireAuth(h.handleAuditLog))

	// Static assets
	mux.Handle("GET /static/", http.FileServer(http.FS(content)))

	return mux
}

// requireAuth ensures a valid session exists, validates CSRF tokens on
// state-changing requests and loads the signed-in admin user.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		session, err := h.sessionMgr.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete {
			csrfToken := r.FormValue("csrf_token")
			if csrfToken == "" {
				csrfToken = r.Header.Get("X-CSRF-Token")
			}
			if subtle.ConstantTimeCompare([]byte(csrfToken), []byte(session.CSRFToken)) != 1 {
				http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
				return
			}
		}

		user, err := h.store.GetAdminUserByID(r.Context(), session.AdminUserID)
		if err != nil {
			_ = h.sessionMgr.InvalidateSession(r.Context(), cookie.Value)
			h.sessionMgr.ClearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		ctx = context.WithValue(ctx, adminUserContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin blocks write operations for viewer-role users.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := adminUserFromContext(r.Context())
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		if !isAdminRole(user.Role) {
			http.Error(w, "Forbidden: admin role required", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func isAdminRole(role string) bool {
	return role == repository.RoleAdmin
}

func sessionFromContext(ctx context.Context) (repository.AdminSession, bool) {
	session, ok := ctx.Value(sessionContextKey).(repository.AdminSession)
	return session, ok
}

func adminUserFromContext(ctx context.Context) (repository.AdminUser, bool) {
	user, ok := ctx.Value(adminUserContextKey).(repository.AdminUser)
	return user, ok
}

// page fills the values every authenticated template expects.
func (h *Handler) page(r *http.Request, data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	if user, ok := adminUserFromContext(r.Context()); ok {
		data["User"] = user
		data["IsAdmin"] = isAdminRole(user.Role)
	}
	if session, ok := sessionFromContext(r.Context()); ok {
		data["CSRFToken"] = session.CSRFToken
	}
	lang := h.language(r)
	data["Lang"] = lang
	data["Dir"] = i18n.Direction(lang)
	return data
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := Render(w, name, data); err != nil {
		h.log.Error("render error", "template", name, "error", err)
	}
}

func (h *Handler) language(r *http.Request) string {
	if h.translator == nil {
		return "en"
	}
	return h.translator.Match(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
}

type validityOption struct {
	Value    string
	Label    string
	Selected bool
}

// validityOptions lists every rule for the benefit form, labelled in lang.
func (h *Handler) validityOptions(lang, selected string) []validityOption {
	selected = core.ResolveAlias(selected)
	rules := core.Rules()
	options := make([]validityOption, 0, len(rules))
	for _, rule := range rules {
		label := string(rule.ID)
		if h.translator != nil {
			label = h.translator.Localize(lang, rule.DisplayKey)
		}
		options = append(options, validityOption{
			Value:    string(rule.ID),
			Label:    label,
			Selected: string(rule.ID) == selected,
		})
	}
	return options
}

func (h *Handler) validityLabels(lang string) map[string]string {
	labels := make(map[string]string)
	for _, option := range h.validityOptions(lang, "") {
		labels[option.Value] = option.Label
	}
	return labels
}

func (h *Handler) setCSRFCookie(w http.ResponseWriter, r *http.Request) string {
	csrfToken := h.generateCSRFToken()
	isSecure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   isSecure,
	})
	return csrfToken
}

func (h *Handler) handleSetupForm(w http.ResponseWriter, r *http.Request) {
	exists, err := h.store.HasAdminUsers(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if exists {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	h.render(w, http.StatusOK, "setup.html", h.page(r, map[string]any{
		"CSRFToken": h.setCSRFCookie(w, r),
	}))
}

func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	exists, err := h.store.HasAdminUsers(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if exists {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	if !h.validateDoubleSubmitCSRF(r) {
		http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	confirm := r.FormValue("confirm_password")

	renderError := func(message string) {
		h.render(w, http.StatusBadRequest, "setup.html", h.page(r, map[string]any{
			"Error":     message,
			"CSRFToken": h.setCSRFCookie(w, r),
		}))
	}

	if message := validateUsername(username); message != "" {
		renderError(message)
		return
	}
	if password != confirm {
		renderError("Passwords do not match")
		return
	}
	if len(password) < minPasswordLength {
		renderError(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
		return
	}

	hash, err := HashPassword(password)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	user, err := h.store.CreateAdminUser(r.Context(), username, hash, repository.RoleAdmin)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationSQLCode {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		h.log.Error("failed to create admin user", "error", err)
		renderError("Failed to create user")
		return
	}

	h.logAudit(r.Context(), user.ID, "admin_setup", entityAdminUser, user.ID, map[string]string{"username": username})

	http.Redirect(w, r, "/login", http.StatusFound)
}

// validateUsername returns a form message, or "" when username is acceptable.
func validateUsername(username string) string {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return fmt.Sprintf("Username must be between %d and %d characters", minUsernameLength, maxUsernameLength)
	}
	for _, c := range username {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '.') {
			return "Username may only contain letters, digits, underscores, hyphens, and dots"
		}
	}
	return ""
}

func (h *Handler) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login.html", h.page(r, map[string]any{
		"CSRFToken": h.setCSRFCookie(w, r),
	}))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.validateDoubleSubmitCSRF(r) {
		http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	limitKeys := []string{"ip:" + clientIP(r), "user:" + strings.ToLower(username)}

	renderError := func(status int, message string) {
		h.render(w, status, "login.html", h.page(r, map[string]any{
			"Error":     message,
			"CSRFToken": h.setCSRFCookie(w, r),
		}))
	}

	if !h.sessionMgr.AllowLogin(limitKeys...) {
		renderError(http.StatusTooManyRequests, "Too many attempts. Please try again later.")
		return
	}

	user, err := h.store.GetAdminUserByUsername(r.Context(), username)
	if err != nil {
		h.sessionMgr.RecordLoginFailure(limitKeys...)
		renderError(http.StatusUnauthorized, "Invalid credentials")
		return
	}

	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !match {
		h.sessionMgr.RecordLoginFailure(limitKeys...)
		renderError(http.StatusUnauthorized, "Invalid credentials")
		return
	}
	h.sessionMgr.ResetLogin(limitKeys...)

	token, err := h.sessionMgr.GenerateSession(r.Context(), user.ID)
	if err != nil {
		h.log.Error("failed to create session", "error", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	h.sessionMgr.SetSessionCookie(w, token)

	h.logAudit(r.Context(), user.ID, "admin_login", entityAdminUser, user.ID, nil)

	http.Redirect(w, r, "/", http.StatusFound)
}

// clientIP only trusts proxy headers when the request comes from a loopback
// or private address.
func clientIP(r *http.Request) string {
	remoteAddr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}
	if ip := net.ParseIP(remoteAddr); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
	}
	return remoteAddr
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := h.sessionMgr.InvalidateSession(r.Context(), cookie.Value); err != nil {
			h.log.Warn("failed to invalidate admin session", "error", err)
		}
	}
	h.sessionMgr.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	brands, err := h.catalog.ListBrands(r.Context())
	if err != nil {
		http.Error(w, "Failed to list brands", http.StatusInternalServerError)
		return
	}

	h.render(w, http.StatusOK, "dashboard.html", h.page(r, map[string]any{
		"Brands": brands,
	}))
}

func brandFromForm(r *http.Request) repository.Brand {
	return repository.Brand{
		Name:        strings.TrimSpace(r.FormValue("name")),
		Category:    strings.TrimSpace(r.FormValue("category")),
		Website:     strings.TrimSpace(r.FormValue("website")),
		LogoURL:     strings.TrimSpace(r.FormValue("logo_url")),
		Description: strings.TrimSpace(r.FormValue("description")),
	}
}

func (h *Handler) handleCreateBrand(w http.ResponseWriter, r *http.Request) {
	user, _ := adminUserFromContext(r.Context())

	brand, err := h.catalog.CreateBrand(r.Context(), brandFromForm(r))
	if err != nil {
		if errors.Is(err, service.ErrBrandNameRequired) {
			http.Error(w, "Brand name is required", http.StatusBadRequest)
			return
		}
		h.log.Error("failed to create brand", "error", err)
		http.Error(w, "Failed to create brand", http.StatusInternalServerError)
		return
	}

	h.logAudit(r.Context(), user.ID, "brand_create", repository.EntityBrand, brand.ID, map[string]string{"name": brand.Name})

	http.Redirect(w, r, "/brands/"+url.PathEscape(brand.ID), http.StatusFound)
}

func (h *Handler) handleBrandDetail(w http.ResponseWriter, r *http.Request) {
	h.renderBrand(w, r, http.StatusOK, nil, benefitForm{})
}

// benefitForm carries submitted values back into a form after a rejected save.
type benefitForm struct {
	Title                string
	Description          string
	RedemptionMethod     string
	PromoCode            string
	ValidityType         string
	ValidityDurationDays string
}

func benefitFormFromRequest(r *http.Request) benefitForm {
	return benefitForm{
		Title:                strings.TrimSpace(r.FormValue("title")),
		Description:          strings.TrimSpace(r.FormValue("description")),
		RedemptionMethod:     strings.TrimSpace(r.FormValue("redemption_method")),
		PromoCode:            strings.TrimSpace(r.FormValue("promo_code")),
		ValidityType:         strings.TrimSpace(r.FormValue("validity_type")),
		ValidityDurationDays: strings.TrimSpace(r.FormValue("validity_duration_days")),
	}
}

func benefitFormFromBenefit(benefit repository.Benefit) benefitForm {
	form := benefitForm{
		Title:            benefit.Title,
		Description:      benefit.Description,
		RedemptionMethod: benefit.RedemptionMethod,
		PromoCode:        benefit.PromoCode,
		ValidityType:     benefit.ValidityType,
	}
	if benefit.ValidityDurationDays != nil {
		form.ValidityDurationDays = strconv.Itoa(*benefit.ValidityDurationDays)
	}
	return form
}

// input converts the form for the validator. A duration that does not parse
// as a number is passed through as text so it is reported as invalid.
func (f benefitForm) input(id, brandID string) service.BenefitInput {
	var duration any
	if f.ValidityDurationDays != "" {
		if _, err := strconv.ParseFloat(f.ValidityDurationDays, 64); err == nil {
			duration = json.Number(f.ValidityDurationDays)
		} else {
			duration = f.ValidityDurationDays
		}
	}

	return service.BenefitInput{
		ID:        id,
		PromoCode: f.PromoCode,
		BenefitRecord: core.BenefitRecord{
			Title:                f.Title,
			Description:          f.Description,
			BrandID:              brandID,
			RedemptionMethod:     f.RedemptionMethod,
			ValidityType:         f.ValidityType,
			ValidityDurationDays: duration,
		},
	}
}

func (h *Handler) renderBrand(w http.ResponseWriter, r *http.Request, status int, formErrors []string, form benefitForm) {
	brandID := r.PathValue("id")
	brand, err := h.catalog.GetBrand(r.Context(), brandID)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}

	benefits, err := h.catalog.ListBenefits(r.Context(), brand.ID)
	if err != nil {
		http.Error(w, "Failed to list benefits", http.StatusInternalServerError)
		return
	}

	lang := h.language(r)
	h.render(w, status, "brand.html", h.page(r, map[string]any{
		"Brand":          brand,
		"Benefits":       benefits,
		"ValidityLabels": h.validityLabels(lang),
		"ValidityTypes":  h.validityOptions(lang, form.ValidityType),
		"Form":           form,
		"Errors":         formErrors,
	}))
}

func (h *Handler) handleUpdateBrand(w http.ResponseWriter, r *http.Request) {
	user, _ := adminUserFromContext(r.Context())

	brand := brandFromForm(r)
	brand.ID = r.PathValue("id")
	updated, err := h.catalog.UpdateBrand(r.Context(), brand)
	if err != nil {
		if errors.Is(err, service.ErrBrandNameRequired) {
			http.Error(w, "Brand name is required", http.StatusBadRequest)
			return
		}
		h.writeCatalogError(w, r, err)
		return
	}

	h.logAudit(r.Context(), user.ID, "brand_update", repository.EntityBrand, updated.ID, map[string]string{"name": updated.Name})

	http.Redirect(w, r, "/brands/"+url.PathEscape(updated.ID), http.StatusFound)
}

func (h *Handler) handleDeleteBrand(w http.ResponseWriter, r *http.Request) {
	user, _ := adminUserFromContext(r.Context())
	brandID := r.PathValue("id")

	if err := h.catalog.DeleteBrand(r.Context(), brandID); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}

	h.logAudit(r.Context(), user.ID, "brand_delete", repository.EntityBrand, brandID, nil)

	if r.Header.Get("HX-Request") == "true" {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleCreateBenefit(w http.ResponseWriter, r *http.Request) {
	user, _ := adminUserFromContext(r.Context())
	brandID := r.PathValue("id")
	form := benefitFormFromRequest(r)

	created, err := h.catalog.CreateBenefit(r.Context(), form.input("", brandID))
	if err != nil {
		var validationErr *service.ValidationError
		if errors.As(err, &validationErr) {
			h.recordValidationFailure()
			h.renderBrand(w, r, http.StatusUnprocessableEntity, validationErr.Errors, form)
			return
		}
		h.writeCatalogError(w, r, err)
		return
	}

	h.logAudit(r.Context(), user.ID, "benefit_create", repository.EntityBenefit, created.ID, map[string]string{
		"brand_id":      created.BrandID,
		"validity_type": created.ValidityType,
	})

	http.Redirect(w, r, "/brands/"+url.PathEscape(brandID), http.StatusFound)
}

func (h *Handler) handleEditBenefit(w http.ResponseWriter, r *http.Request) {
	benefit, err := h.catalog.GetBenefit(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	h.renderBenefitEdit(w, r, http.StatusOK, benefit, nil, benefitFormFromBenefit(benefit))
}

func (h *Handler) renderBenefitEdit(w http.ResponseWriter, r *http.Request, status int, benefit repository.Benefit, formErrors []string, form benefitForm) {
	lang := h.language(r)
	h.render(w, status, "benefit_edit.html", h.page(r, map[string]any{
		"Benefit":       benefit,
		"ValidityTypes": h.validityOptions(lang, form.ValidityType),
		"Form":          form,
		"Errors":        formErrors,
	}))
}

func (h *Handler) handleUpdateBenefit(w http.ResponseWriter, r *http.Request) {
	user, _ := adminUserFromContext(r.Context())

	existing, err := h.catalog.GetBenefit(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}

	form := benefitFormFromRequest(r)
	updated, err := h.catalog.UpdateBenefit(r.Context(), form.input(existing.ID, existing.BrandID))
	if err != nil {
		var validationErr *service.ValidationError
		if errors.As(err, &validationErr) {
			h.recordValidationFailure()
			h.renderBenefitEdit(w, r, http.StatusUnprocessableEntity, existing, validationErr.Errors, form)
			return
		}
		h.writeCatalogError(w, r, err)
		return
	}

	h.logAudit(r.Context(), user.ID, "benefit_update", repository.EntityBenefit, updated.ID, map[string]string{
		"brand_id":      updated.BrandID,
		"validity_type": updated.ValidityType,
	})

	http.Redirect(w, r, "/brands/"+url.PathEscape(updated.BrandID), http.StatusFound)
}

func (h *Handler) handleDeleteBenefit(w http.ResponseWriter, r *http.Request) {
	user, _ := adminUserFromContext(r.Context())

	benefit, err := h.catalog.GetBenefit(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	if err := h.catalog.DeleteBenefit(r.Context(), benefit.ID); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}

	h.logAudit(r.Context(), user.ID, "benefit_delete", repository.EntityBenefit, benefit.ID, map[string]string{"brand_id": benefit.BrandID})

	// An empty response lets htmx drop the row.
	if r.Header.Get("HX-Request") == "true" {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/brands/"+url.PathEscape(benefit.BrandID), http.StatusFound)
}

func (h *Handler) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		http.Error(w, "Failed to list API keys", http.StatusInternalServerError)
		return
	}

	data := map[string]any{"APIKeys": keys}
	if session, ok := sessionFromContext(r.Context()); ok {
		if keyID, secret, ok := h.sessionMgr.PopAPIKeyFlash(session.IDHash); ok {
			data["NewKeyID"] = keyID
			data["NewSecret"] = secret
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
		}
	}

	h.render(w, http.StatusOK, "api_keys.html", h.page(r, data))
}

func (h *Handler) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	user, _ := adminUserFromContext(r.Context())
	session, _ := sessionFromContext(r.Context())

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		http.Error(w, "Missing name", http.StatusBadRequest)
		return
	}

	keyID, rawSecret, err := h.store.CreateAPIKey(r.Context(), name)
	if err != nil {
		h.log.Error("failed to create API key", "error", err)
		http.Error(w, "Failed to create API key", http.StatusInternalServerError)
		return
	}
	h.logAudit(r.Context(), user.ID, "api_key_create", entityAPIKey, keyID, map[string]string{"name": name})

	h.sessionMgr.SetAPIKeyFlash(session.IDHash, keyID, rawSecret)
	http.Redirect(w, r, "/api-keys", http.StatusSeeOther)
}

func (h *Handler) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	user, _ := adminUserFromContext(r.Context())
	keyID := r.PathValue("id")

	if err := h.store.DeleteAPIKey(r.Context(), keyID); err != nil {
		h.log.Error("failed to delete API key", "api_key_id", keyID, "error", err)
		http.Error(w, "Failed to delete API key", http.StatusInternalServerError)
		return
	}
	h.logAudit(r.Context(), user.ID, "api_key_delete", entityAPIKey, keyID, nil)

	http.Redirect(w, r, "/api-keys", http.StatusFound)
}

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid page", http.StatusBadRequest)
			return
		}
		page = parsed
	}

	// One extra row tells us whether a next page exists.
	entries, err := h.store.ListAuditLog(r.Context(), auditLogPageSize+1, (page-1)*auditLogPageSize)
	if err != nil {
		http.Error(w, "Failed to load audit log", http.StatusInternalServerError)
		return
	}
	hasNext := len(entries) > auditLogPageSize
	if hasNext {
		entries = entries[:auditLogPageSize]
	}

	data := map[string]any{
		"Entries": entries,
		"Page":    page,
	}
	if page > 1 {
		data["PrevPage"] = page - 1
	}
	if hasNext {
		data["NextPage"] = page + 1
	}
	h.render(w, http.StatusOK, "audit_log.html", h.page(r, data))
}

func (h *Handler) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrBrandNotFound), errors.Is(err, service.ErrBenefitNotFound), errors.Is(err, service.ErrIDRequired):
		http.NotFound(w, r)
	default:
		h.log.Error("catalog operation failed", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) recordValidationFailure() {
	if h.metrics != nil {
		h.metrics.RecordValidationFailure(validationSourceAdmin)
	}
}

func (h *Handler) generateCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate CSRF token: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// validateDoubleSubmitCSRF checks that the CSRF form value matches the
// yomu_csrf cookie, implementing the double-submit cookie pattern for
// pre-authentication forms (login, setup).
func (h *Handler) validateDoubleSubmitCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(formToken)) == 1
}
