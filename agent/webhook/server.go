// Package webhook is the HTTP surface of the pipeline: WhatsApp and QStash
// deliveries in, health and Prometheus metrics out.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	nodex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/nodes"
	metricsx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/metrics"
)

const (
	routeWhatsApp = "whatsapp"
	routeQStash   = "qstash"

	signatureHeader = "Upstash-Signature"
)

type Config struct {
	Addr              string        `split_words:"true" default:":8080"`
	MaxConcurrentRuns int           `split_words:"true" default:"32"`
	AdmissionTimeout  time.Duration `split_words:"true" default:"2s"`
	RequestTimeout    time.Duration `split_words:"true" default:"120s"`
	MaxBodyBytes      int64         `split_words:"true" default:"1048576"`
	AllowedOrigins    []string      `split_words:"true" default:"*"`
	// PublicURL is the address QStash delivers to; it must match the
	// signature subject. Empty skips the subject check.
	PublicURL string `split_words:"true"`
}

// Pipeline runs one inbound message to a reply.
type Pipeline interface {
	HandleMessage(ctx context.Context, req nodex.GraphInput) (nodex.GraphOutput, error)
}

// Verifier checks QStash request signatures.
type Verifier interface {
	Verify(signature string, body []byte, url string) error
}

type Server struct {
	pipeline    Pipeline
	verifier    Verifier
	transcripts TranscriptReader
	cfg         Config
	sem         *semaphore.Weighted
	logger      zerolog.Logger
	handler     http.Handler
}

type Option func(*Server)

func WithVerifier(v Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func New(pipeline Pipeline, cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 32
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		pipeline: pipeline,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/webhook/whatsapp", s.whatsapp).Methods(http.MethodPost)
	r.HandleFunc("/webhook/qstash", s.qstash).Methods(http.MethodPost)
	s.registerTranscriptRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", signatureHeader},
	})
	s.handler = c.Handler(r)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("webhook server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown webhook server: %w", err)
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) whatsapp(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, routeWhatsApp)
	if !ok {
		return
	}
	s.serve(w, r, routeWhatsApp, body)
}

// qstash accepts the same body as the WhatsApp route, relayed through QStash.
func (s *Server) qstash(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, routeQStash)
	if !ok {
		return
	}
	if s.verifier == nil {
		s.fail(w, routeQStash, http.StatusServiceUnavailable, "qstash verification is not configured")
		return
	}
	if err := s.verifier.Verify(r.Header.Get(signatureHeader), body, s.cfg.PublicURL); err != nil {
		s.logger.Warn().Err(err).Msg("rejected qstash delivery")
		s.fail(w, routeQStash, http.StatusUnauthorized, "invalid signature")
		return
	}
	s.serve(w, r, routeQStash, body)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, route string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, route, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		s.fail(w, route, http.StatusBadRequest, "cannot read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, route string, body []byte) {
	in, err := parseInbound(body)
	if err != nil {
		s.fail(w, route, http.StatusBadRequest, err.Error())
		return
	}

	admitCtx, cancelAdmit := context.WithTimeout(r.Context(), s.cfg.AdmissionTimeout)
	err = s.sem.Acquire(admitCtx, 1)
	cancelAdmit()
	if err != nil {
		w.Header().Set("Retry-After", "1")
		s.fail(w, route, http.StatusServiceUnavailable, "too many concurrent runs")
		return
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	out, err := s.pipeline.HandleMessage(ctx, in)
	switch {
	case err == nil:
		metricsx.RecordWebhook(route, strconv.Itoa(http.StatusOK))
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":       out.RunID,
			"reply":        out.Reply,
			"message_type": out.Envelope.Kind,
		})
	case errors.Is(err, contractx.ErrUnrecoverable):
		s.logger.Error().Err(err).Str("run_id", out.RunID).Str("customer_id", in.CustomerID).Msg("pipeline failed unrecoverably")
		metricsx.RecordWebhook(route, strconv.Itoa(http.StatusBadGateway))
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"run_id": out.RunID,
			"error":  err.Error(),
		})
	case errors.Is(err, nodex.ErrInvalidMessage), errors.Is(err, nodex.ErrInvalidCustomer),
		errors.Is(err, contractx.ErrInvalidEnvelope):
		s.fail(w, route, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
		metricsx.RecordWebhook(route, "499")
	default:
		s.logger.Error().Err(err).Str("customer_id", in.CustomerID).Msg("pipeline error")
		s.fail(w, route, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) fail(w http.ResponseWriter, route string, code int, msg string) {
	metricsx.RecordWebhook(route, strconv.Itoa(code))
	writeJSON(w, code, map[string]any{"error": msg})
}

type inboundMessage struct {
	Message struct {
		Type  string `json:"type"`
		Text  string `json:"text"`
		Image struct {
			URL string `json:"url"`
		} `json:"image"`
	} `json:"message"`
	Customer struct {
		ID string `json:"id"`
	} `json:"customer"`
}

// parseInbound maps a webhook body to a pipeline request: text messages enter
// at dialog, images at vision.
func parseInbound(body []byte) (nodex.GraphInput, error) {
	var msg inboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nodex.GraphInput{}, fmt.Errorf("malformed json: %v", err)
	}

	customerID := strings.TrimSpace(msg.Customer.ID)
	if customerID == "" {
		return nodex.GraphInput{}, errors.New("customer id is required")
	}
	meta := map[string]any{contractx.MetaCustomerID: customerID}

	switch strings.ToLower(strings.TrimSpace(msg.Message.Type)) {
	case contractx.KindText:
		return nodex.GraphInput{
			CustomerID: customerID,
			Envelope:   contractx.NewEnvelope(contractx.KindText, map[string]any{"text": msg.Message.Text}, meta),
			Entry:      contractx.StageDialog,
		}, nil
	case contractx.KindImage:
		payload := map[string]any{"image_url": strings.TrimSpace(msg.Message.Image.URL)}
		if caption := strings.TrimSpace(msg.Message.Text); caption != "" {
			payload["text"] = caption
		}
		return nodex.GraphInput{
			CustomerID: customerID,
			Envelope:   contractx.NewEnvelope(contractx.KindImage, payload, meta),
			Entry:      contractx.StageVision,
		}, nil
	default:
		return nodex.GraphInput{}, fmt.Errorf("unsupported message type %q", msg.Message.Type)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
