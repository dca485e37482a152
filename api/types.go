// types.go - Request- und Response-Typen der HTTP-API
// Enthaelt: StatusError, Load*, Predict*, Model*, Info*
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-caffe2/predictor/ml/backend"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the predictor server logs for details"
	}
}

// LoadRequest laedt entweder ein NetDef-Paar (Init + Predict) oder ein
// ONNX-Modell. Quellen sind lokale Pfade, http(s)- oder gs://-URLs.
type LoadRequest struct {
	Init       string `json:"init,omitempty"`
	Predict    string `json:"predict,omitempty"`
	ONNX       string `json:"onnx,omitempty"`
	Device     string `json:"device,omitempty"`
	Engine     string `json:"engine,omitempty"`
	NumWorkers int    `json:"num_workers,omitempty"`
	Name       string `json:"name,omitempty"`
}

type LoadResponse struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Device  string   `json:"device"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// Input ist ein Eingabe-Tensor; Data wird in DType umgewandelt (Standard float)
type Input struct {
	DType string    `json:"dtype,omitempty"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

type PredictRequest struct {
	ID      string  `json:"id"`
	Inputs  []Input `json:"inputs"`
	Profile bool    `json:"profile,omitempty"`

	// ProfileName wird verwendet, wenn das Netz keinen Namen hat
	ProfileName     string `json:"profile_name,omitempty"`
	ProfileMetadata string `json:"profile_metadata,omitempty"`
}

type Output struct {
	Name  string    `json:"name"`
	DType string    `json:"dtype"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type PredictResponse struct {
	ID               string          `json:"id"`
	Outputs          []Output        `json:"outputs"`
	PredictionLength int             `json:"prediction_length"`
	Duration         time.Duration   `json:"duration"`
	Profile          json.RawMessage `json:"profile,omitempty"`
}

type ModelResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	Device   string    `json:"device"`
	Inputs   []string  `json:"inputs"`
	Outputs  []string  `json:"outputs"`
	LoadedAt time.Time `json:"loaded_at"`
	LastUsed time.Time `json:"last_used"`
}

type ListResponse struct {
	Models []ModelResponse `json:"models"`
}

type InfoResponse struct {
	Devices   []backend.DeviceInfo `json:"devices"`
	Operators []string             `json:"operators"`
	MaxLoaded int                  `json:"max_loaded"`
	Env       map[string]string    `json:"env"`
}
