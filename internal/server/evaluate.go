package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/i18n"
)

// EvaluateRequest asks which benefits are active or upcoming for a birth date.
// BenefitIDs and ValidityTypes are mutually exclusive; with neither set the
// whole catalog is evaluated. Dates use the YYYY-MM-DD form.
type EvaluateRequest struct {
	BirthDate     string   `json:"birth_date,omitempty"`
	ReferenceDate string   `json:"reference_date,omitempty"`
	BenefitIDs    []string `json:"benefit_ids,omitempty"`
	ValidityTypes []string `json:"validity_types,omitempty"`
	Language      string   `json:"language,omitempty"`
}

type EvaluationResult struct {
	BenefitID    string `json:"benefit_id,omitempty"`
	ValidityType string `json:"validity_type"`
	DisplayKey   string `json:"display_key,omitempty"`
	DisplayText  string `json:"display_text,omitempty"`
	Active       bool   `json:"active"`
	Upcoming     bool   `json:"upcoming"`
}

type EvaluateResponse struct {
	ReferenceDate string             `json:"reference_date"`
	Language      string             `json:"language,omitempty"`
	Direction     string             `json:"direction,omitempty"`
	Results       []EvaluationResult `json:"results"`
}

// requestError is a malformed request. HTTP answers it with 400 and gRPC with
// InvalidArgument.
type requestError struct {
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func invalidRequest(format string, args ...any) error {
	return &requestError{message: fmt.Sprintf(format, args...)}
}

// parseEvaluateRequest turns the wire request into evaluator input. An empty
// reference date is pinned to today so the response can echo it.
func parseEvaluateRequest(req EvaluateRequest, today core.CalendarDate) (core.EvaluationInput, error) {
	if len(req.BenefitIDs) > 0 && len(req.ValidityTypes) > 0 {
		return core.EvaluationInput{}, invalidRequest("use either benefit_ids or validity_types")
	}
	for idx, id := range req.BenefitIDs {
		if strings.TrimSpace(id) == "" {
			return core.EvaluationInput{}, invalidRequest("benefit_ids[%d] is required", idx)
		}
	}
	for idx, validityType := range req.ValidityTypes {
		if strings.TrimSpace(validityType) == "" {
			return core.EvaluationInput{}, invalidRequest("validity_types[%d] is required", idx)
		}
	}

	var input core.EvaluationInput
	if value := strings.TrimSpace(req.BirthDate); value != "" {
		birth, err := core.ParseDate(value)
		if err != nil {
			return core.EvaluationInput{}, invalidRequest("invalid birth_date")
		}
		input.BirthDate = &birth
	}

	reference := today
	if value := strings.TrimSpace(req.ReferenceDate); value != "" {
		parsed, err := core.ParseDate(value)
		if err != nil {
			return core.EvaluationInput{}, invalidRequest("invalid reference_date")
		}
		reference = parsed
	}
	input.ReferenceDate = &reference

	return input, nil
}

// evaluate runs an evaluate request against svc and localizes the display
// keys into the best language for preferences.
func evaluate(ctx context.Context, svc Service, texts localizer, req EvaluateRequest, preferences ...string) (EvaluateResponse, error) {
	input, err := parseEvaluateRequest(req, svc.Evaluator().Today())
	if err != nil {
		return EvaluateResponse{}, err
	}

	var evaluations []core.Evaluation
	if len(req.ValidityTypes) > 0 {
		evaluations = svc.EvaluateValidity(req.ValidityTypes, input)
	} else {
		evaluations, err = svc.EvaluateBenefits(ctx, req.BenefitIDs, input)
		if err != nil {
			return EvaluateResponse{}, err
		}
	}

	lang := texts.language(append([]string{req.Language}, preferences...)...)
	response := EvaluateResponse{
		ReferenceDate: input.ReferenceDate.String(),
		Language:      lang,
		Results:       make([]EvaluationResult, 0, len(evaluations)),
	}
	if lang != "" {
		response.Direction = i18n.Direction(lang)
	}

	for _, evaluation := range evaluations {
		response.Results = append(response.Results, EvaluationResult{
			BenefitID:    evaluation.BenefitID,
			ValidityType: string(evaluation.Validity),
			DisplayKey:   evaluation.DisplayKey,
			DisplayText:  texts.text(lang, evaluation.DisplayKey),
			Active:       evaluation.Active,
			Upcoming:     evaluation.Upcoming,
		})
	}

	return response, nil
}

// localizer wraps an optional translator. Without one, no language is picked
// and display texts are left empty.
type localizer struct {
	translator *i18n.Translator
}

func (l localizer) language(preferences ...string) string {
	if l.translator == nil {
		return ""
	}
	return l.translator.Match(preferences...)
}

func (l localizer) text(lang, key string) string {
	if l.translator == nil || key == "" {
		return ""
	}
	return l.translator.Localize(lang, key)
}

func (l localizer) textData(lang, key string, data map[string]any) string {
	if l.translator == nil {
		return ""
	}
	return l.translator.LocalizeData(lang, key, data)
}
