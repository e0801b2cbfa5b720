// Package exchange implements the HTTP ingress: it decodes a submission
// document from the request body, hands it to the composer queue, and
// streams the resulting signal sequence back as a series of framed YAML
// documents.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Candlest/seele/internal/ring"
	"github.com/Candlest/seele/internal/submission"
)

const (
	progressQueryFlag = "progress"

	docOpen  = "\n---\n"
	docClose = "\n...\n"

	drainGracePeriod = 5 * time.Second
)

// ComposerQueueItem is what the exchange hands to the composer: the raw
// submission document plus the channel the composer should push signals
// into.
type ComposerQueueItem struct {
	ConfigYAML []byte
	StatusTx   *ring.Channel[submission.SubmissionSignal]
}

// Server is the HTTP ingress. It owns the bounded queue leading to the
// composer and enforces the configured request body limit.
type Server struct {
	maxBodySizeBytes int64
	composerQueue    chan<- ComposerQueueItem

	httpServer *http.Server
}

// NewServer builds a Server listening on addr, forwarding accepted
// submissions onto composerQueue.
func NewServer(addr string, maxBodySizeBytes int64, composerQueue chan<- ComposerQueueItem) *Server {
	s := &Server{
		maxBodySizeBytes: maxBodySizeBytes,
		composerQueue:    composerQueue,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /submissions", s.handleSubmit)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler backing this server, for use in tests
// that want to drive requests without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts accepting connections; it blocks until the server
// stops, returning nil on a clean Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Shutdown stops accepting new connections and waits up to the drain
// grace period for in-flight response bodies to finish streaming.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, drainGracePeriod)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSubmit(rw http.ResponseWriter, hr *http.Request) {
	body, err := io.ReadAll(io.LimitReader(hr.Body, s.maxBodySizeBytes+1))
	if err != nil {
		http.Error(rw, fmt.Sprintf("reading request body: %v", err), http.StatusInternalServerError)

		return
	}

	if int64(len(body)) > s.maxBodySizeBytes {
		http.Error(rw, fmt.Sprintf("request body exceeds the limit of %d bytes", s.maxBodySizeBytes), http.StatusInternalServerError)

		return
	}

	wantProgress := hr.URL.Query().Has(progressQueryFlag)

	statusTx := ring.New[submission.SubmissionSignal]()

	item := ComposerQueueItem{
		ConfigYAML: body,
		StatusTx:   statusTx,
	}

	select {
	case s.composerQueue <- item:
	case <-hr.Context().Done():
		return
	}

	s.streamSignals(rw, hr.Context(), statusTx, wantProgress)
}

func (s *Server) streamSignals(rw http.ResponseWriter, ctx context.Context, statusTx *ring.Channel[submission.SubmissionSignal], wantProgress bool) {
	rw.Header().Set("Content-Type", "application/yaml")
	rw.WriteHeader(http.StatusOK)

	flusher, _ := rw.(http.Flusher)

	for {
		signal, ok := statusTx.Recv()
		if !ok {
			return
		}

		if signal.Kind == submission.SignalProgress && !wantProgress {
			continue
		}

		if err := writeFramedSignal(rw, signal); err != nil {
			slog.Warn("failed writing signal to response stream", "error", err)

			return
		}

		if flusher != nil {
			flusher.Flush()
		}

		if signal.Kind == submission.SignalCompleted {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func writeFramedSignal(w io.Writer, signal submission.SubmissionSignal) error {
	doc := signalDocument(signal)

	encoded, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	if _, err := io.WriteString(w, docOpen); err != nil {
		return err
	}

	if _, err := w.Write(encoded); err != nil {
		return err
	}

	_, err = io.WriteString(w, docClose)

	return err
}

func signalDocument(signal submission.SubmissionSignal) map[string]any {
	switch signal.Kind {
	case submission.SignalProgress:
		return map[string]any{
			"progress": map[string]any{
				"step":   signal.Step,
				"status": string(signal.Status),
			},
		}
	case submission.SignalCompleted:
		return map[string]any{
			"completed": signal.Final,
		}
	default:
		return map[string]any{}
	}
}
