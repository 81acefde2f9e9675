package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/i18n"
	"github.com/matt-riley/yomu/internal/metrics"
	"github.com/matt-riley/yomu/internal/middleware"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

func reqWithAPIKey(req *http.Request) *http.Request {
	ctx := middleware.NewContextWithClient(req.Context(), "mobile-app")
	ctx = middleware.NewContextWithAPIKeyID(ctx, "key-1")
	return req.WithContext(ctx)
}

func newTestTranslator(t *testing.T) *i18n.Translator {
	t.Helper()
	translator, err := i18n.New("en", nil)
	if err != nil {
		t.Fatalf("i18n.New() error = %v", err)
	}
	return translator
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHTTPHandlerGetBrand(t *testing.T) {
	svc := &fakeService{
		getBrandFunc: func(_ context.Context, id string) (repository.Brand, error) {
			if id != "aroma" {
				t.Fatalf("GetBrand id = %q, want %q", id, "aroma")
			}
			return repository.Brand{ID: "aroma", Name: "Aroma", Category: "coffee"}, nil
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/brands/aroma", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", got)
	}

	var got repository.Brand
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Name != "Aroma" {
		t.Fatalf("response name = %q, want %q", got.Name, "Aroma")
	}
}

func TestHTTPHandlerGetBrandNotFound(t *testing.T) {
	rec := serve(NewHTTPHandler(&fakeService{}), reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/brands/missing", nil)))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), `"error":"brand not found"`) {
		t.Fatalf("body = %q, want brand not found error", rec.Body.String())
	}
}

func TestHTTPHandlerCreateBrandRecordsAudit(t *testing.T) {
	svc := &fakeService{
		createBrandFunc: func(_ context.Context, brand repository.Brand) (repository.Brand, error) {
			brand.ID = "generated"
			return brand, nil
		},
	}

	body := `{"name":"Aroma","category":"coffee"}`
	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/brands", strings.NewReader(body))))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	entries := svc.auditEntries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Action != "create" || entry.EntityType != repository.EntityBrand || entry.EntityID != "generated" {
		t.Fatalf("audit entry = %+v, want create brand generated", entry)
	}
	if entry.APIKeyID != "key-1" {
		t.Fatalf("audit api key = %q, want %q", entry.APIKeyID, "key-1")
	}
	if !strings.Contains(string(entry.Details), `"name":"Aroma"`) {
		t.Fatalf("audit details = %s, want brand payload", entry.Details)
	}
}

func TestHTTPHandlerCreateBrandRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "unknown field",
			body:       `{"name":"Aroma","colour":"red"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:       "trailing object",
			body:       `{"name":"Aroma"}{"name":"Again"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:       "oversized",
			body:       `{"name":"` + strings.Repeat("a", 128) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "request body too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{
				createBrandFunc: func(_ context.Context, _ repository.Brand) (repository.Brand, error) {
					t.Fatal("CreateBrand should not be called")
					return repository.Brand{}, nil
				},
			}

			handler := NewHTTPHandler(svc, WithMaxJSONBodySize(64))
			rec := serve(handler, reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/brands", strings.NewReader(tt.body))))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantError) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantError)
			}
		})
	}
}

func TestHTTPHandlerCreateBrandNameRequired(t *testing.T) {
	svc := &fakeService{
		createBrandFunc: func(_ context.Context, _ repository.Brand) (repository.Brand, error) {
			return repository.Brand{}, service.ErrBrandNameRequired
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/brands", strings.NewReader(`{"name":" "}`))))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(svc.auditEntries()) != 0 {
		t.Fatal("failed mutation should not be audited")
	}
}

func TestHTTPHandlerUpdateBrandPathMismatch(t *testing.T) {
	svc := &fakeService{
		updateBrandFunc: func(_ context.Context, _ repository.Brand) (repository.Brand, error) {
			t.Fatal("UpdateBrand should not be called")
			return repository.Brand{}, nil
		},
	}

	body := `{"id":"other","name":"Aroma"}`
	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPut, "/v1/brands/aroma", strings.NewReader(body))))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHTTPHandlerDeleteBrand(t *testing.T) {
	var deleted string
	svc := &fakeService{
		deleteBrandFunc: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodDelete, "/v1/brands/aroma", nil)))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if deleted != "aroma" {
		t.Fatalf("deleted = %q, want %q", deleted, "aroma")
	}
}

func TestHTTPHandlerListBrandBenefits(t *testing.T) {
	svc := &fakeService{
		getBrandFunc: func(_ context.Context, id string) (repository.Brand, error) {
			return repository.Brand{ID: id, Name: "Aroma"}, nil
		},
		listBenefitsFunc: func(_ context.Context, brandID string) ([]repository.Benefit, error) {
			if brandID != "aroma" {
				t.Fatalf("ListBenefits brandID = %q, want %q", brandID, "aroma")
			}
			return []repository.Benefit{{ID: "b1", BrandID: "aroma", Title: "Free coffee"}}, nil
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/brands/aroma/benefits", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got []repository.Benefit
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b1" {
		t.Fatalf("response = %#v, want single benefit b1", got)
	}
}

func TestHTTPHandlerCreateBenefitInvalidReturnsUnprocessableEntity(t *testing.T) {
	svc := &fakeService{
		createBenefitFunc: func(_ context.Context, in service.BenefitInput) (repository.Benefit, error) {
			verdict := core.Validate(in.BenefitRecord)
			if verdict.IsValid {
				t.Fatal("expected invalid record")
			}
			return repository.Benefit{}, &service.ValidationError{Errors: verdict.Errors}
		},
	}
	m := metrics.New()

	body := `{"title":"Free coffee","brand_id":"aroma","redemption_method":"show app","validity_type":"yearly"}`
	rec := serve(NewHTTPHandler(svc, WithMetrics(m)), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/benefits", strings.NewReader(body))))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	var got struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Error != "invalid benefit" {
		t.Fatalf("error = %q, want %q", got.Error, "invalid benefit")
	}
	want := []string{core.ErrDescriptionRequired, core.InvalidValidityTypeMessage("yearly")}
	if len(got.Details) != len(want) {
		t.Fatalf("details = %#v, want %#v", got.Details, want)
	}
	for i := range want {
		if got.Details[i] != want[i] {
			t.Fatalf("details[%d] = %q, want %q", i, got.Details[i], want[i])
		}
	}

	if v := testutil.ToFloat64(m.ValidationFailuresTotal.WithLabelValues("http")); v != 1 {
		t.Fatalf("validation failures = %v, want 1", v)
	}
	if len(svc.auditEntries()) != 0 {
		t.Fatal("rejected benefit should not be audited")
	}
}

func TestHTTPHandlerCreateBenefitKeepsDurationAsNumber(t *testing.T) {
	svc := &fakeService{
		createBenefitFunc: func(_ context.Context, in service.BenefitInput) (repository.Benefit, error) {
			number, ok := in.ValidityDurationDays.(json.Number)
			if !ok {
				t.Fatalf("duration type = %T, want json.Number", in.ValidityDurationDays)
			}
			if number.String() != "14" {
				t.Fatalf("duration = %q, want %q", number, "14")
			}
			if in.PromoCode != "BDAY" {
				t.Fatalf("promo code = %q, want %q", in.PromoCode, "BDAY")
			}
			return repository.Benefit{ID: "b1", BrandID: in.BrandID, ValidityType: in.ValidityType}, nil
		},
	}

	body := `{"title":"Free coffee","description":"Any size","brand_id":"aroma","redemption_method":"show app",` +
		`"validity_type":"birthday_entire_month","validity_duration_days":14,"promo_code":"BDAY"}`
	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/benefits", strings.NewReader(body))))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
}

func TestHTTPHandlerUpdateBenefitUsesPathID(t *testing.T) {
	svc := &fakeService{
		updateBenefitFunc: func(_ context.Context, in service.BenefitInput) (repository.Benefit, error) {
			if in.ID != "b1" {
				t.Fatalf("UpdateBenefit id = %q, want %q", in.ID, "b1")
			}
			return repository.Benefit{ID: in.ID}, nil
		},
	}

	body := `{"title":"Free coffee","description":"Any size","brand_id":"aroma","redemption_method":"app","validity_type":"always"}`
	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPut, "/v1/benefits/b1", strings.NewReader(body))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHTTPHandlerValidateBenefit(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantValid bool
		wantErrs  []string
	}{
		{
			name:      "valid record",
			body:      `{"title":"t","description":"d","brand_id":"b","redemption_method":"r","validity_type":"birthday_exact_date"}`,
			wantValid: true,
			wantErrs:  []string{},
		},
		{
			name:      "legacy alias accepted",
			body:      `{"title":"t","description":"d","brand_id":"b","redemption_method":"r","validity_type":"birthday_date"}`,
			wantValid: true,
			wantErrs:  []string{},
		},
		{
			name:      "string duration rejected",
			body:      `{"title":"t","description":"d","brand_id":"b","redemption_method":"r","validity_type":"always","validity_duration_days":"30"}`,
			wantValid: false,
			wantErrs:  []string{core.ErrDurationNotNumber},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			rec := serve(NewHTTPHandler(&fakeService{}, WithMetrics(m)), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/benefits/validate", strings.NewReader(tt.body))))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			var got core.Verdict
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if got.IsValid != tt.wantValid {
				t.Fatalf("is_valid = %v, want %v", got.IsValid, tt.wantValid)
			}
			if got.Errors == nil || len(got.Errors) != len(tt.wantErrs) {
				t.Fatalf("errors = %#v, want %#v", got.Errors, tt.wantErrs)
			}
			for i := range tt.wantErrs {
				if got.Errors[i] != tt.wantErrs[i] {
					t.Fatalf("errors[%d] = %q, want %q", i, got.Errors[i], tt.wantErrs[i])
				}
			}

			wantFailures := 0.0
			if !tt.wantValid {
				wantFailures = 1
			}
			if v := testutil.ToFloat64(m.ValidationFailuresTotal.WithLabelValues("http")); v != wantFailures {
				t.Fatalf("validation failures = %v, want %v", v, wantFailures)
			}
		})
	}
}

func TestHTTPHandlerEvaluateValidityTypesLocalized(t *testing.T) {
	handler := NewHTTPHandler(&fakeService{}, WithTranslator(newTestTranslator(t)))

	body := `{"birth_date":"1990-05-10","reference_date":"2026-05-10","validity_types":["birthday_exact_date","birthday_3_days_after","anniversary_week_before_after"]}`
	req := reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(body)))
	req.Header.Set("Accept-Language", "he-IL,he;q=0.9,en;q=0.5")
	rec := serve(handler, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Language"); got != "he" {
		t.Fatalf("Content-Language = %q, want %q", got, "he")
	}

	var got EvaluateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Direction != i18n.DirectionRTL {
		t.Fatalf("direction = %q, want %q", got.Direction, i18n.DirectionRTL)
	}
	if len(got.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(got.Results))
	}

	exact := got.Results[0]
	if !exact.Active || exact.Upcoming {
		t.Fatalf("exact date = %+v, want active and not upcoming", exact)
	}
	if exact.DisplayKey != "validityExactDate" {
		t.Fatalf("display key = %q, want %q", exact.DisplayKey, "validityExactDate")
	}
	if exact.DisplayText == "" || exact.DisplayText == exact.DisplayKey {
		t.Fatalf("display text = %q, want a Hebrew translation", exact.DisplayText)
	}

	if !got.Results[1].Active {
		t.Fatalf("3 days after on the birthday = %+v, want active", got.Results[1])
	}

	anniversary := got.Results[2]
	if anniversary.Active || !anniversary.Upcoming {
		t.Fatalf("anniversary week = %+v, want inactive and upcoming", anniversary)
	}
}

func TestHTTPHandlerEvaluateDefaultsReferenceDateToToday(t *testing.T) {
	var gotInput core.EvaluationInput
	svc := &fakeService{
		evaluateBenefitsFunc: func(_ context.Context, ids []string, in core.EvaluationInput) ([]core.Evaluation, error) {
			if len(ids) != 0 {
				t.Fatalf("ids = %#v, want whole catalog", ids)
			}
			gotInput = in
			return []core.Evaluation{{BenefitID: "b1", Validity: core.ValidityAlways, Active: true}}, nil
		},
	}

	body := `{"birth_date":"1990-01-02"}`
	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(body))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotInput.ReferenceDate == nil || gotInput.ReferenceDate.String() != "2026-05-10" {
		t.Fatalf("reference date = %v, want 2026-05-10", gotInput.ReferenceDate)
	}

	var got EvaluateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.ReferenceDate != "2026-05-10" {
		t.Fatalf("reference_date = %q, want %q", got.ReferenceDate, "2026-05-10")
	}
	if got.Language != "" || got.Results[0].DisplayText != "" {
		t.Fatalf("response = %+v, want no localization without translator", got)
	}
}

func TestHTTPHandlerEvaluateBadRequests(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{
			name:      "ids and validity types",
			body:      `{"benefit_ids":["b1"],"validity_types":["always"]}`,
			wantError: "use either benefit_ids or validity_types",
		},
		{
			name:      "invalid birth date",
			body:      `{"birth_date":"10/05/1990","validity_types":["always"]}`,
			wantError: "invalid birth_date",
		},
		{
			name:      "invalid reference date",
			body:      `{"birth_date":"1990-05-10","reference_date":"2026-13-01","validity_types":["always"]}`,
			wantError: "invalid reference_date",
		},
		{
			name:      "blank validity type",
			body:      `{"validity_types":["always"," "]}`,
			wantError: "validity_types[1] is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewHTTPHandler(&fakeService{}), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(tt.body))))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if !strings.Contains(rec.Body.String(), tt.wantError) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantError)
			}
		})
	}
}

func TestHTTPHandlerEvaluateUnknownBenefit(t *testing.T) {
	svc := &fakeService{
		evaluateBenefitsFunc: func(_ context.Context, _ []string, _ core.EvaluationInput) ([]core.Evaluation, error) {
			return nil, service.ErrBenefitNotFound
		},
	}

	body := `{"birth_date":"1990-05-10","benefit_ids":["missing"]}`
	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(body))))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHTTPHandlerUpsertUser(t *testing.T) {
	svc := &fakeService{
		upsertUserFunc: func(_ context.Context, user repository.User) (repository.User, error) {
			if user.ID != "u1" {
				t.Fatalf("user id = %q, want %q", user.ID, "u1")
			}
			if user.BirthDate == nil || user.BirthDate.String() != "1990-05-10" {
				t.Fatalf("birth date = %v, want 1990-05-10", user.BirthDate)
			}
			if user.Locale != "he" {
				t.Fatalf("locale = %q, want %q", user.Locale, "he")
			}
			return user, nil
		},
	}

	body := `{"display_name":"Noa","email":"noa@example.com","birth_date":"1990-05-10","locale":"he"}`
	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPut, "/v1/users/u1", strings.NewReader(body))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHTTPHandlerSetBirthDate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "set", body: `{"birth_date":"1988-02-29"}`, want: "1988-02-29"},
		{name: "clear", body: `{"birth_date":null}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &fakeService{
				setBirthDateFunc: func(_ context.Context, userID string, birthDate *core.CalendarDate) error {
					called = true
					got := ""
					if birthDate != nil {
						got = birthDate.String()
					}
					if userID != "u1" || got != tt.want {
						t.Fatalf("SetBirthDate(%q, %q), want (u1, %q)", userID, got, tt.want)
					}
					return nil
				},
			}

			rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPut, "/v1/users/u1/birth-date", strings.NewReader(tt.body))))

			if rec.Code != http.StatusNoContent {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
			}
			if !called {
				t.Fatal("SetBirthDate was not called")
			}
		})
	}
}

func TestHTTPHandlerUserBenefits(t *testing.T) {
	svc := &fakeService{
		userBenefitsFunc: func(_ context.Context, userID string, ref *core.CalendarDate) (service.Dashboard, error) {
			if ref == nil || ref.String() != "2026-05-12" {
				t.Fatalf("ref = %v, want 2026-05-12", ref)
			}
			return service.Dashboard{
				UserID:        userID,
				ReferenceDate: *ref,
				Active: []service.DashboardItem{{
					Benefit:    repository.Benefit{ID: "b1", ValidityType: "birthday_entire_month"},
					BrandName:  "Aroma",
					Evaluation: core.Evaluation{BenefitID: "b1", Validity: core.ValidityBirthdayEntireMonth, DisplayKey: "validityEntireMonth", Active: true},
				}},
				Upcoming: []service.DashboardItem{},
				Used:     []service.DashboardItem{},
				Other:    []service.DashboardItem{},
			}, nil
		},
	}

	handler := NewHTTPHandler(svc, WithTranslator(newTestTranslator(t)))
	rec := serve(handler, reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/users/u1/benefits?date=2026-05-12&lang=en", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var got struct {
		UserID string `json:"user_id"`
		Active []struct {
			BrandName   string `json:"brand_name"`
			DisplayText string `json:"display_text"`
			Benefit     struct {
				ID string `json:"id"`
			} `json:"benefit"`
		} `json:"active"`
		Upcoming []json.RawMessage `json:"upcoming"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.UserID != "u1" || len(got.Active) != 1 {
		t.Fatalf("response = %+v, want one active benefit for u1", got)
	}
	if got.Active[0].Benefit.ID != "b1" || got.Active[0].BrandName != "Aroma" {
		t.Fatalf("active item = %+v, want b1 from Aroma", got.Active[0])
	}
	if got.Active[0].DisplayText != "Throughout your birthday month" {
		t.Fatalf("display text = %q, want English rule text", got.Active[0].DisplayText)
	}
	if got.Upcoming == nil {
		t.Fatal("upcoming should encode as an empty list")
	}
}

func TestHTTPHandlerUserBenefitsInvalidDate(t *testing.T) {
	svc := &fakeService{
		userBenefitsFunc: func(_ context.Context, _ string, _ *core.CalendarDate) (service.Dashboard, error) {
			t.Fatal("UserBenefits should not be called")
			return service.Dashboard{}, nil
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/users/u1/benefits?date=tomorrow", nil)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHTTPHandlerMemberships(t *testing.T) {
	var added, removed string
	svc := &fakeService{
		addMembershipFunc: func(_ context.Context, userID, brandID string) error {
			added = userID + "/" + brandID
			return nil
		},
		removeMembershipFunc: func(_ context.Context, userID, brandID string) error {
			removed = userID + "/" + brandID
			return service.ErrMembershipNotFound
		},
	}
	handler := NewHTTPHandler(svc)

	rec := serve(handler, reqWithAPIKey(httptest.NewRequest(http.MethodPut, "/v1/users/u1/memberships/aroma", nil)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if added != "u1/aroma" {
		t.Fatalf("added = %q, want %q", added, "u1/aroma")
	}

	rec = serve(handler, reqWithAPIKey(httptest.NewRequest(http.MethodDelete, "/v1/users/u1/memberships/aroma", nil)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("DELETE status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if removed != "u1/aroma" {
		t.Fatalf("removed = %q, want %q", removed, "u1/aroma")
	}

	entries := svc.auditEntries()
	if len(entries) != 1 || entries[0].EntityType != entityMembership {
		t.Fatalf("audit entries = %+v, want one membership entry", entries)
	}
}

func TestHTTPHandlerMarkUsed(t *testing.T) {
	usedAt := time.Date(2026, time.May, 10, 9, 30, 0, 0, time.UTC)
	svc := &fakeService{
		markUsedFunc: func(_ context.Context, userID, benefitID string) (repository.BenefitUsage, error) {
			return repository.BenefitUsage{ID: 7, UserID: userID, BenefitID: benefitID, UsedAt: usedAt}, nil
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodPost, "/v1/users/u1/benefits/b1/use", nil)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var got repository.BenefitUsage
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.ID != 7 || !got.UsedAt.Equal(usedAt) {
		t.Fatalf("usage = %+v, want id 7 at %v", got, usedAt)
	}
}

func TestHTTPHandlerCalendar(t *testing.T) {
	birth := core.CalendarDate{Year: 1990, Month: time.June, Day: 15}
	svc := &fakeService{
		memberBenefitsFunc: func(_ context.Context, userID string) (repository.User, []service.DashboardItem, error) {
			return repository.User{ID: userID, BirthDate: &birth, Locale: "en"}, []service.DashboardItem{
				{
					Benefit:   repository.Benefit{ID: "b1", Title: "Free coffee", ValidityType: "birthday_entire_month"},
					BrandName: "Aroma",
				},
			}, nil
		},
	}

	handler := NewHTTPHandler(svc, WithTranslator(newTestTranslator(t)), WithNow(func() time.Time { return fixedToday }))
	rec := serve(handler, reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/users/u1/calendar.ics", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/calendar") {
		t.Fatalf("Content-Type = %q, want text/calendar", got)
	}

	body := rec.Body.String()
	for _, want := range []string{"BEGIN:VCALENDAR", "BEGIN:VEVENT", "SUMMARY:Aroma: Free coffee", "b1-2026@", "b1-2027@"} {
		if !strings.Contains(body, want) {
			t.Fatalf("calendar missing %q:\n%s", want, body)
		}
	}
}

func TestHTTPHandlerCalendarWithoutBirthDate(t *testing.T) {
	svc := &fakeService{
		memberBenefitsFunc: func(_ context.Context, userID string) (repository.User, []service.DashboardItem, error) {
			return repository.User{ID: userID}, []service.DashboardItem{
				{Benefit: repository.Benefit{ID: "b1", ValidityType: "birthday_entire_month"}},
			}, nil
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/users/u1/calendar.ics", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") || strings.Contains(body, "BEGIN:VEVENT") {
		t.Fatalf("calendar = %q, want an empty VCALENDAR", body)
	}
}

func TestHTTPHandlerStreamReplaysFromLastEventID(t *testing.T) {
	sinceCalls := make([]int64, 0)
	svc := &fakeService{
		listEventsSinceFunc: func(_ context.Context, since int64) ([]repository.CatalogEvent, error) {
			sinceCalls = append(sinceCalls, since)
			if since != 1 {
				return nil, nil
			}
			return []repository.CatalogEvent{
				{
					EventID:    2,
					EntityType: repository.EntityBenefit,
					EntityID:   "b1",
					EventType:  service.EventTypeUpdated,
					Payload:    json.RawMessage(`{"id":"b1","validity_type":"always"}`),
				},
				{
					EventID:    3,
					EntityType: repository.EntityBrand,
					EntityID:   "aroma",
					EventType:  service.EventTypeDeleted,
					Payload:    json.RawMessage(`{"id":"aroma"}`),
				},
				{
					EventID:    4,
					EntityType: "user",
					EntityID:   "u1",
					EventType:  service.EventTypeUpdated,
				},
			}, nil
		},
	}

	handler := NewHTTPHandler(svc, WithStreamPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx))
	req.Header.Set("Last-Event-ID", "1")
	rec := serve(handler, req)

	if len(sinceCalls) == 0 || sinceCalls[0] != 1 {
		t.Fatalf("first ListEventsSince call = %#v, want first value %d", sinceCalls, 1)
	}
	if len(sinceCalls) > 1 && sinceCalls[1] != 4 {
		t.Fatalf("second ListEventsSince call = %d, want %d", sinceCalls[1], 4)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "id: 2\nevent: benefit.update\n") {
		t.Fatalf("stream body missing benefit update event: %q", body)
	}
	if !strings.Contains(body, "id: 3\nevent: brand.delete\n") {
		t.Fatalf("stream body missing brand delete event: %q", body)
	}
	if strings.Contains(body, "id: 4") {
		t.Fatalf("stream body should skip non-catalog events: %q", body)
	}
}

func TestHTTPHandlerStreamInvalidLastEventID(t *testing.T) {
	rec := serve(NewHTTPHandler(&fakeService{}), func() *http.Request {
		req := reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/stream", nil))
		req.Header.Set("Last-Event-ID", "-5")
		return req
	}())

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHTTPHandlerStreamInitialFetchErrorReturnsHTTPError(t *testing.T) {
	svc := &fakeService{
		listEventsSinceFunc: func(_ context.Context, _ int64) ([]repository.CatalogEvent, error) {
			return nil, errors.New("backend failure")
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/stream", nil)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Body.String(), `"error":"internal server error"`) {
		t.Fatalf("body = %q, want internal server error json", rec.Body.String())
	}
}

func TestHTTPHandlerStreamSendsSSEErrorAfterStartOnBackendFailure(t *testing.T) {
	calls := 0
	svc := &fakeService{
		listEventsSinceFunc: func(_ context.Context, _ int64) ([]repository.CatalogEvent, error) {
			calls++
			if calls == 1 {
				return nil, nil
			}
			return nil, errors.New("backend failure")
		},
	}

	handler := NewHTTPHandler(svc, WithStreamPollInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rec := serve(handler, reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "event: error\ndata: {\"error\":\"internal server error\"}") {
		t.Fatalf("body = %q, want SSE error event", rec.Body.String())
	}
}

func TestHTTPHandlerStreamTracksActiveStreams(t *testing.T) {
	m := metrics.New()
	observed := make(chan float64, 1)
	svc := &fakeService{
		listEventsSinceFunc: func(_ context.Context, _ int64) ([]repository.CatalogEvent, error) {
			select {
			case observed <- testutil.ToFloat64(m.ActiveStreams.WithLabelValues("sse")):
			default:
			}
			return nil, nil
		},
	}

	handler := NewHTTPHandler(svc, WithMetrics(m), WithStreamPollInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	serve(handler, reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)))

	<-observed
	if v := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("sse")); v != 0 {
		t.Fatalf("active streams after close = %v, want 0", v)
	}
}

func TestHTTPHandlerListAuditLog(t *testing.T) {
	svc := &fakeService{
		listAuditLogFunc: func(_ context.Context, limit, offset int) ([]repository.AuditLogEntry, error) {
			if limit != maxAuditLogLimit || offset != 20 {
				t.Fatalf("ListAuditLog(%d, %d), want (%d, 20)", limit, offset, maxAuditLogLimit)
			}
			return []repository.AuditLogEntry{{ID: 1, Action: "create", EntityType: "brand", EntityID: "aroma"}}, nil
		},
	}

	rec := serve(NewHTTPHandler(svc), reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/audit-log?limit=9999&offset=20", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got []repository.AuditLogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(got) != 1 || got[0].EntityID != "aroma" {
		t.Fatalf("entries = %+v, want single aroma entry", got)
	}
}

func TestHTTPHandlerListAuditLogEmptyIsList(t *testing.T) {
	rec := serve(NewHTTPHandler(&fakeService{}), reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/audit-log", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q, want []", rec.Body.String())
	}
}

func TestHTTPHandlerMetricsEndpointAndRouteLabels(t *testing.T) {
	m := metrics.New()
	handler := NewHTTPHandler(&fakeService{}, WithMetrics(m))

	serve(handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	serve(handler, reqWithAPIKey(httptest.NewRequest(http.MethodGet, "/v1/brands/missing", nil)))

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "GET /healthz", "200")); v != 1 {
		t.Fatalf("healthz requests = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "GET /v1/brands/{id}", "404")); v != 1 {
		t.Fatalf("brand requests = %v, want 1", v)
	}

	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "yomu_http_requests_total") {
		t.Fatalf("metrics body missing yomu_http_requests_total")
	}
}

func TestHTTPHandlerHealthz(t *testing.T) {
	rec := serve(NewHTTPHandler(&fakeService{}), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %q, want ok status", rec.Body.String())
	}
}
