// Package server - HTTP-Schnittstelle ueber geladene Predictoren
// Beinhaltet: Server-Struct, Router-Registrierung, Handler fuer Laden,
// Vorhersage, Profile und Modellverwaltung
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/go-caffe2/predictor/api"
	"github.com/go-caffe2/predictor/envconfig"
	"github.com/go-caffe2/predictor/fetch"
	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/ml/backend"
	"github.com/go-caffe2/predictor/predictor"
)

var mode string = gin.DebugMode

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// Server haelt die geladenen Predictoren
type Server struct {
	addr    net.Addr
	runtime *predictor.Runtime
	fetcher *fetch.Fetcher
	models  *models

	// profile aktiviert das Profiling fuer jeden Predict-Aufruf
	profile bool
}

// New erstellt einen Server mit den Einstellungen aus envconfig
func New(addr net.Addr) *Server {
	return &Server{
		addr:    addr,
		runtime: predictor.Default(),
		fetcher: fetch.New(""),
		models:  newModels(int(envconfig.MaxLoaded())),
		profile: envconfig.Profile(),
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Predictor is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Predictor is running") })
	r.GET("/api/info", s.InfoHandler)

	r.POST("/api/load", s.LoadHandler)
	r.POST("/api/predict", s.PredictHandler)
	r.GET("/api/profile/:id", s.ProfileHandler)
	r.GET("/api/models", s.ListHandler)
	r.DELETE("/api/models/:id", s.DeleteHandler)

	return r
}

// statusFor bildet Predictor-Fehler auf HTTP-Status ab
func statusFor(err error) int {
	switch {
	case errors.Is(err, errModelNotFound), errors.Is(err, os.ErrNotExist),
		errors.Is(err, predictor.ErrOutputNotFound):
		return http.StatusNotFound
	case errors.Is(err, predictor.ErrUnsupportedDevice):
		return http.StatusNotImplemented
	case errors.Is(err, predictor.ErrInvalidArgument),
		errors.Is(err, predictor.ErrUnsupportedDataType),
		errors.Is(err, predictor.ErrGraphLoadFailed),
		errors.Is(err, fetch.ErrUnsupportedScheme):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// =============================================================================
// Handler
// =============================================================================

// InfoHandler gibt Geraete, Operatoren und Konfiguration zurueck
func (s *Server) InfoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.InfoResponse{
		Devices:   backend.Devices(),
		Operators: s.runtime.Registry().Types(),
		MaxLoaded: s.models.max,
		Env:       envconfig.Values(),
	})
}

// LoadHandler laedt einen Predictor und gibt seine ID zurueck
func (s *Server) LoadHandler(c *gin.Context) {
	var req api.LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, fmt.Errorf("%w: %w", predictor.ErrInvalidArgument, err))
		return
	}

	p, source, err := s.load(c.Request.Context(), req)
	if err != nil {
		abort(c, err)
		return
	}

	now := time.Now()
	m := &model{p: p, id: uuid.NewString(), source: source, loadedAt: now, lastUsed: now}
	s.models.add(m)

	slog.Info("predictor loaded", "id", m.id, "name", p.Name(), "source", source, "device", p.Device())
	c.JSON(http.StatusOK, api.LoadResponse{
		ID:      m.id,
		Name:    p.Name(),
		Device:  p.Device().String(),
		Inputs:  p.InputNames(),
		Outputs: p.OutputNames(),
	})
}

func (s *Server) load(ctx context.Context, req api.LoadRequest) (*predictor.Predictor, string, error) {
	device, err := ml.ParseDeviceKind(req.Device)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", predictor.ErrInvalidArgument, err)
	}

	opts := []predictor.Option{predictor.WithDevice(device)}
	if req.Engine != "" {
		opts = append(opts, predictor.WithEngine(req.Engine))
	}
	if req.NumWorkers > 0 {
		opts = append(opts, predictor.WithNumWorkers(req.NumWorkers))
	}
	if req.Name != "" {
		opts = append(opts, predictor.WithName(req.Name))
	}

	switch {
	case req.ONNX != "":
		path, err := s.fetcher.Resolve(ctx, req.ONNX)
		if err != nil {
			return nil, "", err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		p, err := s.runtime.NewFromONNX(payload, opts...)
		return p, req.ONNX, err
	case req.Init != "" && req.Predict != "":
		paths, err := s.fetcher.ResolveAll(ctx, req.Init, req.Predict)
		if err != nil {
			return nil, "", err
		}
		p, err := s.runtime.New(paths[0], paths[1], opts...)
		return p, req.Predict, err
	default:
		return nil, "", fmt.Errorf("%w: either onnx or init and predict are required", predictor.ErrInvalidArgument)
	}
}

// PredictHandler bindet die Eingaben, fuehrt das Netz aus und gibt alle
// Ausgaben zurueck
func (s *Server) PredictHandler(c *gin.Context) {
	var req api.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, fmt.Errorf("%w: %w", predictor.ErrInvalidArgument, err))
		return
	}

	m, err := s.models.get(req.ID)
	if err != nil {
		abort(c, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		abort(c, errModelNotFound)
		return
	}
	m.lastUsed = time.Now()

	resp, err := s.predict(c.Request.Context(), m.p, req)
	if err != nil {
		abort(c, err)
		return
	}
	resp.ID = m.id
	c.JSON(http.StatusOK, resp)
}

func (s *Server) predict(ctx context.Context, p *predictor.Predictor, req api.PredictRequest) (*api.PredictResponse, error) {
	if len(req.Inputs) > len(p.InputNames()) {
		return nil, fmt.Errorf("%w: %d inputs given, network has %d", predictor.ErrInvalidArgument, len(req.Inputs), len(p.InputNames()))
	}

	for i, in := range req.Inputs {
		dtype := ml.DTypeF32
		if in.DType != "" {
			var err error
			if dtype, err = ml.ParseDType(in.DType); err != nil {
				return nil, fmt.Errorf("%w: input %d: %w", predictor.ErrUnsupportedDataType, i, err)
			}
		}

		if !ml.ValidShape(in.Shape) {
			return nil, fmt.Errorf("%w: input %d: shape %v", predictor.ErrInvalidArgument, i, in.Shape)
		}
		values := make([]float32, len(in.Data))
		for j, v := range in.Data {
			values[j] = float32(v)
		}
		t, err := ml.FromFloat32(dtype, values, in.Shape...)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", predictor.ErrInvalidArgument, i, err)
		}
		if err := p.BindInput(i, t.DType(), t.Bytes(), in.Shape); err != nil {
			return nil, err
		}
	}

	if req.Profile || s.profile {
		p.StartProfiling(req.ProfileName, req.ProfileMetadata)
	} else {
		p.DisableProfiling()
	}

	started := time.Now()
	if err := p.Run(ctx); err != nil {
		return nil, err
	}
	p.EndProfiling()

	resp := &api.PredictResponse{Duration: time.Since(started)}
	for i, name := range p.OutputNames() {
		t, err := p.Output(i)
		if err != nil {
			return nil, err
		}
		data, err := t.AsFloat32()
		if err != nil {
			return nil, fmt.Errorf("%w: output %q: %w", predictor.ErrUnsupportedDataType, name, err)
		}
		resp.Outputs = append(resp.Outputs, api.Output{
			Name:  name,
			DType: t.DType().String(),
			Shape: t.Shape(),
			Data:  data,
		})
	}
	resp.PredictionLength = p.OutputLength()

	if p.Profile() != nil {
		resp.Profile = []byte(p.ReadProfile())
	}
	return resp, nil
}

// ProfileHandler gibt das Profil des letzten profilierten Laufs zurueck
func (s *Server) ProfileHandler(c *gin.Context) {
	m, err := s.models.get(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	m.mu.Lock()
	doc := m.p.ReadProfile()
	m.mu.Unlock()

	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
}

func (s *Server) ListHandler(c *gin.Context) {
	resp := api.ListResponse{Models: []api.ModelResponse{}}
	for _, m := range s.models.list() {
		m.mu.Lock()
		if !m.closed {
			resp.Models = append(resp.Models, m.info())
		}
		m.mu.Unlock()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteHandler(c *gin.Context) {
	if !s.models.remove(c.Param("id")) {
		abort(c, errModelNotFound)
		return
	}
	c.Status(http.StatusOK)
}
