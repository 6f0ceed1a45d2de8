package models

import "github.com/shopspring/decimal"

// PredictRequest is the JSON body of POST /api/predict.
// Pointer fields distinguish a missing value from a zero value.
type PredictRequest struct {
	Blurb   *string          `json:"blurb"`
	Backers *int64           `json:"backers"`
	Goal    *decimal.Decimal `json:"goal"`
}

// PredictResponse contains the prediction and the echoed inputs
type PredictResponse struct {
	Prediction string          `json:"prediction"`
	Label      string          `json:"label"`
	Blurb      string          `json:"blurb"`
	Backers    int64           `json:"backers"`
	Goal       decimal.Decimal `json:"goal"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// InfoResponse describes the running service
type InfoResponse struct {
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	Version         string                 `json:"version"`
	ArtifactsLoaded bool                   `json:"artifacts_loaded"`
	Artifacts       map[string]interface{} `json:"artifacts,omitempty"`
}
