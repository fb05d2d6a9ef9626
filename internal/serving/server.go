package serving

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/metrics"
)

// DefaultMaxUpload caps request bodies at 20MB.
const DefaultMaxUpload = 20 << 20

// Server exposes a Predictor over HTTP.
type Server struct {
	Predictor Predictor
	Version   string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// Ready, if set, gates /readyz (for example a database ping).
	Ready     func(ctx context.Context) error
	MaxUpload int64
}

type textRequest struct {
	Text string `json:"text"`
}

// NewMux registers the prediction, version and probe routes.
func (s *Server) NewMux() *http.ServeMux {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.MaxUpload <= 0 {
		s.MaxUpload = DefaultMaxUpload
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.HandleFunc("GET /version", s.version)
	mux.HandleFunc("POST /models/image/predict", s.predictImage)
	mux.HandleFunc("POST /models/text/predict", s.predictText)
	mux.HandleFunc("POST /models/multimodal/predict", s.predictMultimodal)
	return mux
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ready(ctx); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.Version})
}

func (s *Server) predictImage(w http.ResponseWriter, r *http.Request) {
	image, name, err := s.readFile(w, r, "file")
	if err != nil {
		s.fail(w, "image", http.StatusBadRequest, err)
		return
	}
	s.Logger.Info("processing image", zap.String("file.name", name), zap.Int("file.bytes", len(image)))
	s.predict(w, r, "image", Input{Image: image})
}

func (s *Server) predictText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.MaxUpload)).Decode(&req); err != nil {
		s.fail(w, "text", http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.Text == "" {
		s.fail(w, "text", http.StatusBadRequest, errors.New("text is required"))
		return
	}
	s.Logger.Info("processing text", zap.String("text.prefix", prefix(req.Text, 50)))
	s.predict(w, r, "text", Input{Text: req.Text})
}

func (s *Server) predictMultimodal(w http.ResponseWriter, r *http.Request) {
	image, _, err := s.readFile(w, r, "image")
	if err != nil {
		s.fail(w, "multimodal", http.StatusBadRequest, err)
		return
	}
	text := r.FormValue("text")
	if text == "" {
		s.fail(w, "multimodal", http.StatusBadRequest, errors.New("text is required"))
		return
	}
	s.Logger.Info("fusing inputs", zap.String("text.prefix", prefix(text, 30)), zap.Int("file.bytes", len(image)))
	s.predict(w, r, "multimodal", Input{Image: image, Text: text})
}

func (s *Server) readFile(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUpload)
	if err := r.ParseMultipartForm(s.MaxUpload); err != nil {
		return nil, "", errors.New("expected multipart form with field " + field)
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, "", errors.New("missing file field " + field)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty file field " + field)
	}
	return data, hdr.Filename, nil
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request, modality string, in Input) {
	p, err := s.Predictor.Predict(r.Context(), in)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrEmptyInput) {
			status = http.StatusBadRequest
		}
		s.fail(w, modality, status, err)
		return
	}
	s.Metrics.Prediction(modality, "ok")
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) fail(w http.ResponseWriter, modality string, status int, err error) {
	s.Metrics.Prediction(modality, "error")
	s.Logger.Warn("prediction request failed", zap.String("modality", modality), zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
