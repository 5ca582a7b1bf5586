package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"carrec/internal/dataset"
	"carrec/internal/domain"
	"carrec/internal/insights"
	"carrec/internal/logging"
	"carrec/internal/recommend"
	"carrec/internal/retry"
)

const (
	defaultPageSize = 50
	maxBodyBytes    = 64 << 10
	// used when the provider gave no Retry-After hint
	fallbackRetryAfter = 30 * time.Second
)

type filterRequest struct {
	YearMin   int      `json:"year_min" validate:"omitempty,gte=1886,lte=9999"`
	YearMax   int      `json:"year_max" validate:"omitempty,gte=1886,lte=9999,gtefield=YearMin"`
	Makes     []string `json:"makes" validate:"max=50,dive,max=100"`
	BodyTypes []string `json:"body_types" validate:"max=50,dive,max=100"`
}

func (f filterRequest) criteria() domain.FilterCriteria {
	return domain.FilterCriteria{YearMin: f.YearMin, YearMax: f.YearMax, Makes: f.Makes, BodyTypes: f.BodyTypes}
}

type recommendationRequest struct {
	Requirements string        `json:"requirements" validate:"max=4000"`
	Filters      filterRequest `json:"filters"`
}

type pageRequest struct {
	Limit  int `json:"limit" validate:"gte=1,lte=500"`
	Offset int `json:"offset" validate:"gte=0"`
}

type vehicleJSON struct {
	Index          int               `json:"index"`
	Make           string            `json:"make,omitempty"`
	Model          string            `json:"model,omitempty"`
	Year           *int              `json:"year,omitempty"`
	BodyType       string            `json:"body_type,omitempty"`
	FuelEfficiency *float64          `json:"fuel_efficiency,omitempty"`
	Price          *float64          `json:"price,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	ImageURL       string            `json:"image_url,omitempty"`
}

func toVehicleJSON(v domain.Vehicle) vehicleJSON {
	out := vehicleJSON{Index: v.Index, Make: v.Make, Model: v.Model, BodyType: v.BodyType}
	if v.HasYear {
		y := v.Year
		out.Year = &y
	}
	if v.HasFuel {
		f := v.FuelEfficiency
		out.FuelEfficiency = &f
	}
	if v.HasPrice {
		p := v.Price
		out.Price = &p
	}
	if len(v.Extra) > 0 {
		out.Extra = make(map[string]string, len(v.Extra))
		for _, f := range v.Extra {
			out.Extra[f.Name] = f.Value
		}
	}
	return out
}

type carsResponse struct {
	Total  int           `json:"total"`
	Count  int           `json:"count"`
	Offset int           `json:"offset"`
	Cars   []vehicleJSON `json:"cars"`
}

type recommendationJSON struct {
	Rank       int         `json:"rank"`
	Identifier string      `json:"identifier"`
	Rationale  string      `json:"rationale,omitempty"`
	Vehicle    vehicleJSON `json:"vehicle"`
}

type recommendationResponse struct {
	RequestID       string               `json:"request_id"`
	Recommendations []recommendationJSON `json:"recommendations"`
	Explanation     string               `json:"explanation"`
	Unresolved      []string             `json:"unresolved"`
	Attempts        int                  `json:"attempts"`
	Candidates      int                  `json:"candidates"`
}

// GetCars lists the cars matching the filter query, paginated.
func (s *Server) GetCars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := filterFromQuery(q)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	var page pageRequest
	if page.Limit, err = intParam(q, "limit", defaultPageSize); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if page.Offset, err = intParam(q, "offset", 0); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if err := s.validate.Struct(struct {
		Filter filterRequest `json:"filter"`
		Page   pageRequest   `json:"page"`
	}{f, page}); err != nil {
		respondValidation(w, err)
		return
	}

	matched := dataset.Filter(s.data, f.criteria())
	resp := carsResponse{Total: matched.Len(), Offset: page.Offset, Cars: []vehicleJSON{}}
	if page.Offset < matched.Len() {
		end := min(matched.Len(), page.Offset+page.Limit)
		for _, rec := range matched.Records[page.Offset:end] {
			resp.Cars = append(resp.Cars, toVehicleJSON(matched.Vehicle(rec)))
		}
	}
	resp.Count = len(resp.Cars)
	respondJSON(w, http.StatusOK, resp)
}

// PostRecommendations runs the recommendation pipeline over the filtered
// dataset. No match is a 200 with an empty list.
func (s *Server) PostRecommendations(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.allow(); !ok {
		w.Header().Set("Retry-After", retryAfterSeconds(wait))
		respondError(w, http.StatusTooManyRequests, "throttled", "too many recommendation requests")
		return
	}

	var req recommendationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON object with requirements and filters")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	criteria := req.Filters.criteria()
	res, err := s.rec.Recommend(r.Context(), recommend.Request{
		Requirements: req.Requirements,
		Criteria:     criteria,
		Candidates:   dataset.Filter(s.data, criteria),
	})
	if err != nil {
		s.respondPipelineError(w, r, err)
		return
	}

	out := recommendationResponse{
		RequestID:       res.RequestID,
		Recommendations: make([]recommendationJSON, 0, len(res.Recommendations)),
		Explanation:     res.Explanation,
		Unresolved:      res.Unresolved,
		Attempts:        res.Attempts,
		Candidates:      res.Candidates,
	}
	if out.Unresolved == nil {
		out.Unresolved = []string{}
	}
	for _, rec := range res.Recommendations {
		v := toVehicleJSON(rec.Vehicle)
		if s.images != nil {
			v.ImageURL = s.images.URL(r.Context(), rec.Vehicle.Make, rec.Vehicle.Model, rec.Vehicle.Year)
		}
		out.Recommendations = append(out.Recommendations, recommendationJSON{
			Rank:       rec.Rank,
			Identifier: rec.Identifier,
			Rationale:  rec.Rationale,
			Vehicle:    v,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) respondPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.WithRequest(r.Context(), s.log)
	switch {
	case errors.Is(err, domain.ErrEmptyRequirements):
		respondError(w, http.StatusUnprocessableEntity, "empty_requirements", "requirements must not be empty")
	case errors.Is(err, domain.ErrEmptyCandidateSet):
		respondError(w, http.StatusUnprocessableEntity, "no_candidates", "no cars match the selected filters")
	case errors.Is(err, domain.ErrCredential):
		log.Error().Err(err).Msg("provider credential rejected")
		respondError(w, http.StatusBadGateway, "credential", "the recommendation service rejected the configured credential")
	case errors.Is(err, domain.ErrRateLimited):
		wait := retry.RetryAfter(err)
		if wait <= 0 {
			wait = fallbackRetryAfter
		}
		w.Header().Set("Retry-After", retryAfterSeconds(wait))
		respondError(w, http.StatusServiceUnavailable, "rate_limited", "the recommendation service is rate limiting requests")
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads this
		respondError(w, http.StatusServiceUnavailable, "canceled", "request canceled")
	default:
		log.Error().Err(err).Msg("recommendation dispatch failed")
		respondError(w, http.StatusBadGateway, "transport", "could not reach the recommendation service")
	}
}

// GetInsights returns one chart series over the filtered dataset.
func (s *Server) GetInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	m, err := insights.ParseMetric(q.Get("metric"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_metric", err.Error())
		return
	}
	f, err := filterFromQuery(q)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if err := s.validate.Struct(f); err != nil {
		respondValidation(w, err)
		return
	}
	series := insights.Summarize(dataset.Filter(s.data, f.criteria()), m)
	if series.Points == nil {
		series.Points = []insights.Point{}
	}
	respondJSON(w, http.StatusOK, series)
}

// GetOverview returns the headline numbers of the whole dataset.
func (s *Server) GetOverview(w http.ResponseWriter, _ *http.Request) {
	o := insights.Summary(s.data)
	if o.TopBodyTypes == nil {
		o.TopBodyTypes = []insights.Point{}
	}
	respondJSON(w, http.StatusOK, o)
}

// GetHealth reports liveness and the loaded row count.
func (s *Server) GetHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "rows": s.data.Len()})
}

func filterFromQuery(q url.Values) (filterRequest, error) {
	var f filterRequest
	var err error
	if f.YearMin, err = intParam(q, "year_min", 0); err != nil {
		return f, err
	}
	if f.YearMax, err = intParam(q, "year_max", 0); err != nil {
		return f, err
	}
	f.Makes = q["make"]
	f.BodyTypes = q["body_type"]
	return f, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &paramError{key: key, value: v}
	}
	return n, nil
}

type paramError struct{ key, value string }

func (e *paramError) Error() string {
	return e.key + " must be an integer, got " + strconv.Quote(e.value)
}
