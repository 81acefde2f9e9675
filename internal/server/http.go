package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matt-riley/yomu/internal/calendar"
	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/i18n"
	"github.com/matt-riley/yomu/internal/middleware"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

const (
	defaultAuditLogLimit = 50
	maxAuditLogLimit     = 500

	entityUser       = "user"
	entityMembership = "membership"
	entityUsage      = "usage"

	validationSourceHTTP = "http"
)

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	service Service
	opts    options
	texts   localizer
}

type userJSONRequest struct {
	DisplayName string             `json:"display_name"`
	Email       string             `json:"email"`
	BirthDate   *core.CalendarDate `json:"birth_date,omitempty"`
	Locale      string             `json:"locale"`
}

type birthDateJSONRequest struct {
	BirthDate *core.CalendarDate `json:"birth_date"`
}

type dashboardJSONItem struct {
	service.DashboardItem
	DisplayText string `json:"display_text,omitempty"`
}

type dashboardJSONResponse struct {
	UserID        string              `json:"user_id"`
	ReferenceDate core.CalendarDate   `json:"reference_date"`
	Language      string              `json:"language,omitempty"`
	Direction     string              `json:"direction,omitempty"`
	Active        []dashboardJSONItem `json:"active"`
	Upcoming      []dashboardJSONItem `json:"upcoming"`
	Used          []dashboardJSONItem `json:"used"`
	Other         []dashboardJSONItem `json:"other"`
}

type validationJSONError struct {
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

// NewHTTPHandler returns the JSON API. Authentication is applied by the
// caller around the /v1/ routes.
func NewHTTPHandler(svc Service, opts ...Option) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	o := newOptions(opts)
	server := &HTTPServer{
		service: svc,
		opts:    o,
		texts:   localizer{translator: o.translator},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/brands", server.handleCreateBrand)
	mux.HandleFunc("GET /v1/brands", server.handleListBrands)
	mux.HandleFunc("GET /v1/brands/{id}", server.handleGetBrand)
	mux.HandleFunc("PUT /v1/brands/{id}", server.handleUpdateBrand)
	mux.HandleFunc("DELETE /v1/brands/{id}", server.handleDeleteBrand)
	mux.HandleFunc("GET /v1/brands/{id}/benefits", server.handleListBrandBenefits)

	mux.HandleFunc("POST /v1/benefits", server.handleCreateBenefit)
	mux.HandleFunc("GET /v1/benefits", server.handleListBenefits)
	mux.HandleFunc("POST /v1/benefits/validate", server.handleValidateBenefit)
	mux.HandleFunc("GET /v1/benefits/{id}", server.handleGetBenefit)
	mux.HandleFunc("PUT /v1/benefits/{id}", server.handleUpdateBenefit)
	mux.HandleFunc("DELETE /v1/benefits/{id}", server.handleDeleteBenefit)

	mux.HandleFunc("POST /v1/evaluate", server.handleEvaluate)

	mux.HandleFunc("PUT /v1/users/{id}", server.handleUpsertUser)
	mux.HandleFunc("GET /v1/users/{id}", server.handleGetUser)
	mux.HandleFunc("PUT /v1/users/{id}/birth-date", server.handleSetBirthDate)
	mux.HandleFunc("GET /v1/users/{id}/benefits", server.handleUserBenefits)
	mux.HandleFunc("PUT /v1/users/{id}/memberships/{brandID}", server.handleAddMembership)
	mux.HandleFunc("DELETE /v1/users/{id}/memberships/{brandID}", server.handleRemoveMembership)
	mux.HandleFunc("POST /v1/users/{id}/benefits/{benefitID}/use", server.handleMarkUsed)
	mux.HandleFunc("GET /v1/users/{id}/calendar.ics", server.handleCalendar)

	mux.HandleFunc("GET /v1/stream", server.handleStream)
	mux.HandleFunc("GET /v1/audit-log", server.handleAuditLog)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if o.metrics != nil {
		mux.Handle("GET /metrics", o.metrics.Handler())
	}

	return server.withMetrics(mux)
}

func (s *HTTPServer) withMetrics(next http.Handler) http.Handler {
	m := s.opts.metrics
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		labels := []string{r.Method, route, strconv.Itoa(recorder.status)}
		m.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
		m.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *HTTPServer) handleCreateBrand(w http.ResponseWriter, r *http.Request) {
	var brand repository.Brand
	if err := s.decodeJSONBody(w, r, &brand); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateBrand(r.Context(), brand)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "create", repository.EntityBrand, created.ID, created)
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := s.service.ListBrands(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, brands)
}

func (s *HTTPServer) handleGetBrand(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	brand, err := s.service.GetBrand(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, brand)
}

func (s *HTTPServer) handleUpdateBrand(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	var brand repository.Brand
	if err := s.decodeJSONBody(w, r, &brand); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(brand.ID) != "" && brand.ID != id {
		writeJSONError(w, http.StatusBadRequest, "path id and body id must match")
		return
	}
	brand.ID = id

	updated, err := s.service.UpdateBrand(r.Context(), brand)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "update", repository.EntityBrand, updated.ID, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteBrand(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	if err := s.service.DeleteBrand(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "delete", repository.EntityBrand, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListBrandBenefits(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.service.GetBrand(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	benefits, err := s.service.ListBenefits(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, benefits)
}

func (s *HTTPServer) handleCreateBenefit(w http.ResponseWriter, r *http.Request) {
	var in service.BenefitInput
	if err := s.decodeJSONBody(w, r, &in); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateBenefit(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "create", repository.EntityBenefit, created.ID, created)
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListBenefits(w http.ResponseWriter, r *http.Request) {
	benefits, err := s.service.ListBenefits(r.Context(), strings.TrimSpace(r.URL.Query().Get("brand_id")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, benefits)
}

func (s *HTTPServer) handleValidateBenefit(w http.ResponseWriter, r *http.Request) {
	var in service.BenefitInput
	if err := s.decodeJSONBody(w, r, &in); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	verdict := s.service.ValidateBenefit(in.BenefitRecord)
	if !verdict.IsValid && s.opts.metrics != nil {
		s.opts.metrics.RecordValidationFailure(validationSourceHTTP)
	}
	if verdict.Errors == nil {
		verdict.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *HTTPServer) handleGetBenefit(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	benefit, err := s.service.GetBenefit(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, benefit)
}

func (s *HTTPServer) handleUpdateBenefit(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	var in service.BenefitInput
	if err := s.decodeJSONBody(w, r, &in); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(in.ID) != "" && in.ID != id {
		writeJSONError(w, http.StatusBadRequest, "path id and body id must match")
		return
	}
	in.ID = id

	updated, err := s.service.UpdateBenefit(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "update", repository.EntityBenefit, updated.ID, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteBenefit(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	if err := s.service.DeleteBenefit(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "delete", repository.EntityBenefit, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var request EvaluateRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	response, err := evaluate(r.Context(), s.service, s.texts, request, r.Header.Get("Accept-Language"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if response.Language != "" {
		w.Header().Set("Content-Language", response.Language)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	var request userJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	saved, err := s.service.UpsertUser(r.Context(), repository.User{
		ID:          id,
		DisplayName: strings.TrimSpace(request.DisplayName),
		Email:       strings.TrimSpace(request.Email),
		BirthDate:   request.BirthDate,
		Locale:      strings.TrimSpace(request.Locale),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "upsert", entityUser, saved.ID, nil)
	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	user, err := s.service.GetUser(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleSetBirthDate(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	var request birthDateJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if err := s.service.SetBirthDate(r.Context(), id, request.BirthDate); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "set_birth_date", entityUser, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleUserBenefits(w http.ResponseWriter, r *http.Request) {
	id, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	var ref *core.CalendarDate
	if value := strings.TrimSpace(r.URL.Query().Get("date")); value != "" {
		parsed, err := core.ParseDate(value)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid date")
			return
		}
		ref = &parsed
	}

	dashboard, err := s.service.UserBenefits(r.Context(), id, ref)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	lang := s.texts.language(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
	response := dashboardJSONResponse{
		UserID:        dashboard.UserID,
		ReferenceDate: dashboard.ReferenceDate,
		Language:      lang,
		Active:        s.localizeItems(lang, dashboard.Active),
		Upcoming:      s.localizeItems(lang, dashboard.Upcoming),
		Used:          s.localizeItems(lang, dashboard.Used),
		Other:         s.localizeItems(lang, dashboard.Other),
	}
	if lang != "" {
		response.Direction = i18n.Direction(lang)
		w.Header().Set("Content-Language", lang)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) localizeItems(lang string, items []service.DashboardItem) []dashboardJSONItem {
	out := make([]dashboardJSONItem, 0, len(items))
	for _, item := range items {
		out = append(out, dashboardJSONItem{
			DashboardItem: item,
			DisplayText:   s.texts.text(lang, item.Evaluation.DisplayKey),
		})
	}
	return out
}

func (s *HTTPServer) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	userID, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}
	brandID, ok := requirePathValue(w, r, "brandID")
	if !ok {
		return
	}

	if err := s.service.AddMembership(r.Context(), userID, brandID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "create", entityMembership, userID+"/"+brandID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRemoveMembership(w http.ResponseWriter, r *http.Request) {
	userID, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}
	brandID, ok := requirePathValue(w, r, "brandID")
	if !ok {
		return
	}

	if err := s.service.RemoveMembership(r.Context(), userID, brandID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "delete", entityMembership, userID+"/"+brandID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMarkUsed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}
	benefitID, ok := requirePathValue(w, r, "benefitID")
	if !ok {
		return
	}

	usage, err := s.service.MarkUsed(r.Context(), userID, benefitID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.audit(r, "use", entityUsage, benefitID, usage)
	writeJSON(w, http.StatusCreated, usage)
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requirePathValue(w, r, "id")
	if !ok {
		return
	}

	user, items, err := s.service.MemberBenefits(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	lang := s.texts.language(user.Locale, r.Header.Get("Accept-Language"))
	opts := calendar.Options{
		Name: s.texts.text(lang, "calendarName"),
		Now:  s.opts.now(),
	}
	if s.texts.translator != nil {
		opts.Summary = func(entry calendar.Entry) string {
			return s.texts.textData(lang, "calendarEventSummary", map[string]any{"Brand": entry.Brand, "Title": entry.Title})
		}
		opts.Reminder = func(entry calendar.Entry) string {
			return s.texts.textData(lang, "calendarReminder", map[string]any{"Brand": entry.Brand, "Title": entry.Title})
		}
	}

	var (
		birth   core.CalendarDate
		entries []calendar.Entry
	)
	if user.BirthDate != nil {
		birth = *user.BirthDate
		entries = make([]calendar.Entry, 0, len(items))
		for _, item := range items {
			entries = append(entries, calendar.Entry{
				BenefitID:    item.Benefit.ID,
				Brand:        item.BrandName,
				Title:        item.Benefit.Title,
				ValidityType: item.Benefit.ValidityType,
			})
		}
	}

	body, err := calendar.Build(opts, birth, entries)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="yomu.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	lastEventID, err := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}

	if !canFlush(w) {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	controller := http.NewResponseController(w)

	currentEventID := lastEventID
	writeEvents := func(events []repository.CatalogEvent) error {
		for _, event := range events {
			currentEventID = event.EventID
			eventName := toSSEEventName(event.EntityType, event.EventType)
			if eventName == "" {
				continue
			}

			payload := event.Payload
			if len(payload) == 0 {
				payload = []byte(`{}`)
			}

			if err := writeSSEEvent(w, event.EventID, eventName, payload); err != nil {
				return err
			}
			if err := controller.Flush(); err != nil {
				return err
			}
		}

		return nil
	}

	initialEvents, err := s.service.ListEventsSince(r.Context(), currentEventID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if m := s.opts.metrics; m != nil {
		m.ActiveStreams.WithLabelValues("sse").Inc()
		defer m.ActiveStreams.WithLabelValues("sse").Dec()
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = controller.Flush()

	if err := writeEvents(initialEvents); err != nil {
		return
	}

	ticker := time.NewTicker(s.opts.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := s.service.ListEventsSince(r.Context(), currentEventID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				writeSSEError(w, controller, serviceErrorMessage(err))
				return
			}
			if err := writeEvents(events); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.service.ListAuditLog(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []repository.AuditLogEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// audit records a successful mutation against the calling API key.
func (s *HTTPServer) audit(r *http.Request, action, entityType, entityID string, details any) {
	entry, err := repository.NewAuditEntry(action, entityType, entityID, details)
	if err != nil {
		middleware.LoggerFromContext(r.Context()).Warn("build audit entry", "error", err)
		return
	}
	entry.APIKeyID, _ = middleware.APIKeyIDFromContext(r.Context())
	s.service.RecordAudit(r.Context(), entry)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		if s.opts.metrics != nil {
			s.opts.metrics.RecordValidationFailure(validationSourceHTTP)
		}
		details := validationErr.Errors
		if details == nil {
			details = []string{}
		}
		writeJSON(w, http.StatusUnprocessableEntity, validationJSONError{
			Error:   serviceErrorMessage(err),
			Details: details,
		})
		return
	}

	writeJSONError(w, httpStatusFor(err), serviceErrorMessage(err))
}

func httpStatusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, service.ErrBrandNameRequired),
		errors.Is(err, service.ErrIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidBenefit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrBrandNotFound),
		errors.Is(err, service.ErrBenefitNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrMembershipNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func serviceErrorMessage(err error) string {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.message
	case errors.Is(err, service.ErrInvalidBenefit):
		return "invalid benefit"
	case errors.Is(err, service.ErrBrandNameRequired):
		return "brand name is required"
	case errors.Is(err, service.ErrIDRequired):
		return "id is required"
	case errors.Is(err, service.ErrBrandNotFound):
		return "brand not found"
	case errors.Is(err, service.ErrBenefitNotFound):
		return "benefit not found"
	case errors.Is(err, service.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, service.ErrMembershipNotFound):
		return "membership not found"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func requirePathValue(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(r.PathValue(name))
	if value == "" {
		writeJSONError(w, http.StatusBadRequest, name+" is required")
		return "", false
	}
	return value, true
}

func parseLastEventID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	eventID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || eventID < 0 {
		return 0, errors.New("invalid event id")
	}

	return eventID, nil
}

// parsePagination reads limit and offset query values. An empty limit means
// the default page size; limits above the maximum are clamped.
func parsePagination(rawLimit, rawOffset string) (int, int, error) {
	limit := defaultAuditLogLimit
	if value := strings.TrimSpace(rawLimit); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(parsed, maxAuditLogLimit)
	}

	offset := 0
	if value := strings.TrimSpace(rawOffset); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = parsed
	}

	return limit, offset, nil
}

// toSSEEventName names a catalog event "<entity>.<update|delete>". Unknown
// entity or event types are not streamed.
func toSSEEventName(entityType, eventType string) string {
	entity := strings.ToLower(strings.TrimSpace(entityType))
	if entity != repository.EntityBrand && entity != repository.EntityBenefit {
		return ""
	}

	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "update", "updated":
		return entity + ".update"
	case "delete", "deleted":
		return entity + ".delete"
	default:
		return ""
	}
}

func canFlush(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		unwrapper, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = unwrapper.Unwrap()
	}
}

func writeSSEError(w http.ResponseWriter, controller *http.ResponseController, message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"internal server error"}`)
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	_ = controller.Flush()
}

func writeSSEEvent(w io.Writer, eventID int64, eventName string, payload []byte) error {
	dataLines := compactSSEPayload(payload)
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", eventID, eventName); err != nil {
		return err
	}

	for _, line := range dataLines {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(w, "\n")
	return err
}

func compactSSEPayload(payload []byte) []string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err == nil {
		return []string{compact.String()}
	}

	lines := strings.Split(string(payload), "\n")
	if len(lines) == 0 {
		return []string{""}
	}

	return lines
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSONBody decodes a single JSON object. Numbers stay json.Number so
// the validator sees them as sent.
func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
