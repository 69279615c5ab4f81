// v1
// internal/httpapi/router.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"nrgchamp/sensorcore/internal/dts"
	"nrgchamp/sensorcore/internal/fit"
	"nrgchamp/sensorcore/internal/metrics"
	"nrgchamp/sensorcore/internal/record"
	"nrgchamp/sensorcore/internal/sensor"
	"nrgchamp/sensorcore/internal/sink"
	"nrgchamp/sensorcore/internal/testmethod"
)

const maxBodyBytes = 32 << 20

// DTSRunner executes and describes the DTS test instance.
type DTSRunner interface {
	Name() string
	Configs() []sensor.Configuration
	Execute(ctx context.Context, unit testmethod.Unit) (testmethod.DTSResult, error)
}

// FIVRRunner executes the FIVR test instance.
type FIVRRunner interface {
	Execute(ctx context.Context, req testmethod.FitRequest) (testmethod.FIVRResult, error)
}

// ResultLister serves archived envelopes.
type ResultLister interface {
	List(deviceID string) []sink.Archived
}

// Deps are the collaborators the API exposes. Archive may be nil.
type Deps struct {
	Logger  *slog.Logger
	Health  *HealthState
	Metrics *metrics.Metrics
	DTS     DTSRunner
	FIVR    FIVRRunner
	Archive ResultLister
	Symbols dts.Resolver
}

type server struct {
	Deps
}

// NewRouter registers every route on a gorilla mux router.
func NewRouter(d Deps) *mux.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Health == nil {
		d.Health = NewHealthState()
	}
	if d.Symbols == nil {
		d.Symbols = dts.Symbols(nil)
	}
	s := &server{Deps: d}
	r := mux.NewRouter()

	handle := func(path, method string, h http.HandlerFunc) {
		r.Handle(path, d.Metrics.WrapHandler(path, h)).Methods(method)
	}
	handle("/health", http.MethodGet, s.health)
	handle("/health/live", http.MethodGet, s.live)
	handle("/health/ready", http.MethodGet, s.ready)
	r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)

	handle("/v1/dts/configs", http.MethodGet, s.dtsConfigs)
	handle("/v1/dts/execute", http.MethodPost, s.dtsExecute)
	handle("/v1/dts/decode", http.MethodPost, s.dtsDecode)
	handle("/v1/fivr/fit", http.MethodPost, s.fivrFit)
	handle("/v1/records/inflate", http.MethodPost, s.inflate)
	handle("/v1/results/{deviceId}", http.MethodGet, s.results)
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": s.Health.Ready()})
}

func (s *server) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *server) ready(w http.ResponseWriter, _ *http.Request) {
	if !s.Health.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) dtsConfigs(w http.ResponseWriter, _ *http.Request) {
	if s.DTS == nil {
		writeError(w, http.StatusServiceUnavailable, "dts test method not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"test": s.DTS.Name(), "configs": s.DTS.Configs()})
}

func (s *server) dtsExecute(w http.ResponseWriter, r *http.Request) {
	if s.DTS == nil {
		writeError(w, http.StatusServiceUnavailable, "dts test method not configured")
		return
	}
	var unit testmethod.Unit
	if !decodeBody(w, r, &unit) {
		return
	}
	res, err := s.DTS.Execute(r.Context(), unit)
	if errors.Is(err, testmethod.ErrNoDevice) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.Logger.Warn("dts_execute_error", slog.String("deviceId", unit.DeviceID), slog.Any("err", err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"result": res, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type decodeRequest struct {
	Config  sensor.Configuration `json:"config"`
	Capture string               `json:"capture"`
	Symbols map[string]float64   `json:"symbols,omitempty"`
}

type decodeResponse struct {
	Samples       dts.Samples     `json:"samples"`
	Summary       string          `json:"summary"`
	Raw           string          `json:"raw"`
	CompressedRaw string          `json:"compressedRaw,omitempty"`
	Evaluation    dts.Evaluation  `json:"evaluation"`
	Port          testmethod.Port `json:"port"`
}

// dtsDecode runs one inline configuration without publishing anything. The
// configuration is always treated as enabled.
func (s *server) dtsDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cfg := req.Config
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	samples, err := dts.Decode(req.Capture, cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	resolver := s.Symbols
	if len(req.Symbols) > 0 {
		local := dts.Symbols(req.Symbols)
		base := s.Symbols
		resolver = dts.ResolverFunc(func(expr string) (float64, error) {
			if v, err := local.Resolve(expr); err == nil {
				return v, nil
			}
			return base.Resolve(expr)
		})
	}
	ev, err := dts.NewEvaluator(resolver, s.Logger).Evaluate(samples, cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	resp := decodeResponse{
		Samples:    samples,
		Summary:    record.Summary(samples, cfg),
		Raw:        record.Raw(samples, cfg),
		Evaluation: ev,
		Port:       testmethod.PortPass,
	}
	if !ev.Pass {
		resp.Port = testmethod.PortFail
	}
	if record.WantsCompressedRaw(cfg) && samples.Count() > 0 {
		packed, err := record.Compress(resp.Raw)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.CompressedRaw = packed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) fivrFit(w http.ResponseWriter, r *http.Request) {
	if s.FIVR == nil {
		writeError(w, http.StatusServiceUnavailable, "fivr test method not configured")
		return
	}
	var req testmethod.FitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.FIVR.Execute(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, testmethod.ErrNoDevice), errors.Is(err, fit.ErrDimensionMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"result": res, "error": err.Error()})
	}
}

func (s *server) inflate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	text, err := record.Decompress(strings.TrimSpace(req.Data))
	if errors.Is(err, record.ErrTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *server) results(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "result archive disabled")
		return
	}
	device := mux.Vars(r)["deviceId"]
	recs := s.Archive.List(device)
	if len(recs) == 0 {
		writeError(w, http.StatusNotFound, "no results for device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": device, "records": recs})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
