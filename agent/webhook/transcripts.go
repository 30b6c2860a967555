package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
	metricsx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/metrics"
)

const routeTranscripts = "transcripts"

// TranscriptReader serves stored run transcripts.
type TranscriptReader interface {
	Load(ctx context.Context, runID string) (*statex.Conversation, error)
	RecentRuns(ctx context.Context, customerID string, limit int) ([]string, error)
}

// WithTranscripts enables the read-only transcript routes.
func WithTranscripts(r TranscriptReader) Option {
	return func(s *Server) { s.transcripts = r }
}

func (s *Server) registerTranscriptRoutes(r *mux.Router) {
	if s.transcripts == nil {
		return
	}
	r.HandleFunc("/transcripts/{run_id}", s.transcript).Methods(http.MethodGet)
	r.HandleFunc("/customers/{customer_id}/runs", s.customerRuns).Methods(http.MethodGet)
}

func (s *Server) transcript(w http.ResponseWriter, r *http.Request) {
	conv, err := s.transcripts.Load(r.Context(), mux.Vars(r)["run_id"])
	switch {
	case errors.Is(err, statex.ErrTranscriptNotFound):
		s.fail(w, routeTranscripts, http.StatusNotFound, "transcript not found")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("load transcript")
		s.fail(w, routeTranscripts, http.StatusBadGateway, "transcript store unavailable")
		return
	}
	metricsx.RecordWebhook(routeTranscripts, strconv.Itoa(http.StatusOK))
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) customerRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, routeTranscripts, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	customerID := mux.Vars(r)["customer_id"]
	runs, err := s.transcripts.RecentRuns(r.Context(), customerID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("customer_id", customerID).Msg("list customer runs")
		s.fail(w, routeTranscripts, http.StatusBadGateway, "transcript store unavailable")
		return
	}
	metricsx.RecordWebhook(routeTranscripts, strconv.Itoa(http.StatusOK))
	writeJSON(w, http.StatusOK, map[string]any{"customer_id": customerID, "runs": runs})
}
