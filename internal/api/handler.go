package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kartoza/kickstarter-guide/internal/artifacts"
	"github.com/kartoza/kickstarter-guide/internal/config"
	"github.com/kartoza/kickstarter-guide/internal/httputil"
	"github.com/kartoza/kickstarter-guide/internal/logging"
	"github.com/kartoza/kickstarter-guide/internal/models"
	"github.com/kartoza/kickstarter-guide/internal/predict"
)

const (
	Title       = "Kickstarter Success Guide"
	Description = "Interactive tool to check for the success of a Kickstarter"
)

// maxBodyBytes bounds the JSON body of a prediction request
const maxBodyBytes = 64 << 10

// Predictor produces a prediction for one request
type Predictor interface {
	Predict(ctx context.Context, req predict.Request) (predict.Result, error)
}

// Handler provides HTTP API endpoints
type Handler struct {
	predictor Predictor
	artifacts *artifacts.Set
	cfg       config.Config
}

// NewHandler creates a new API handler
func NewHandler(predictor Predictor, set *artifacts.Set, cfg config.Config) *Handler {
	return &Handler{
		predictor: predictor,
		artifacts: set,
		cfg:       cfg,
	}
}

// RegisterRoutes sets up all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/info", h.handleInfo).Methods("GET")
	r.HandleFunc("/predict", h.handlePredict).Methods("POST")
}

// handleHealth returns server health status
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo returns server information
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := models.InfoResponse{
		Title:           Title,
		Description:     Description,
		Version:         h.cfg.Version,
		ArtifactsLoaded: h.artifacts != nil,
	}
	if h.artifacts != nil {
		info.Artifacts = h.artifacts.Info()
	}
	httputil.RespondJSON(w, http.StatusOK, info)
}

// handlePredict runs a prediction from a JSON body
func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	if h.predictor == nil {
		httputil.RespondError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}

	var body models.PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		respondDecodeError(w, err)
		return
	}

	req, verr := toRequest(body)
	if verr != nil {
		respondValidation(w, verr)
		return
	}

	res, err := h.predictor.Predict(r.Context(), req)
	if err != nil {
		var ve *predict.ValidationError
		if errors.As(err, &ve) {
			respondValidation(w, ve)
			return
		}
		logging.New("api").Error("prediction failed", "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "prediction failed")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, models.PredictResponse{
		Prediction: res.Message,
		Label:      string(res.Label),
		Blurb:      req.Blurb,
		Backers:    req.Backers,
		Goal:       req.Goal,
	})
}

func toRequest(body models.PredictRequest) (predict.Request, *predict.ValidationError) {
	verr := &predict.ValidationError{}
	if body.Blurb == nil {
		verr.Add("blurb", "field required")
	}
	if body.Backers == nil {
		verr.Add("backers", "field required")
	}
	if body.Goal == nil {
		verr.Add("goal", "field required")
	}
	if len(verr.Fields) > 0 {
		return predict.Request{}, verr
	}

	req := predict.Request{Blurb: *body.Blurb, Backers: *body.Backers, Goal: *body.Goal}
	if err := req.Validate(); err != nil {
		if !errors.As(err, &verr) {
			verr = &predict.ValidationError{}
			verr.Add("body", err.Error())
		}
		return predict.Request{}, verr
	}
	return req, nil
}

func respondDecodeError(w http.ResponseWriter, err error) {
	var (
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &typeErr):
		httputil.RespondJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:  "invalid request",
			Fields: map[string]string{typeErr.Field: "has the wrong type"},
		})
	case errors.As(err, &sizeErr):
		httputil.RespondError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
	default:
		// field decoders such as decimal report their own errors
		httputil.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

func respondValidation(w http.ResponseWriter, verr *predict.ValidationError) {
	httputil.RespondJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{
		Error:  "invalid request",
		Fields: verr.Fields,
	})
}
