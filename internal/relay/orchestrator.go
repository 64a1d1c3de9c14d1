// ABOUTME: Orchestrates one answer exchange end to end.
// ABOUTME: Searches, streams the answer, relays partials to the session room, returns the terminal answer.

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schemeworks/scheme-gateway/internal/auth"
	"github.com/schemeworks/scheme-gateway/internal/discovery"
	"github.com/schemeworks/scheme-gateway/internal/metrics"
	"github.com/schemeworks/scheme-gateway/internal/room"
	"github.com/schemeworks/scheme-gateway/internal/stream"
)

// Phase is where an exchange currently is in its lifecycle.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseAuth       Phase = "auth"
	PhaseStreaming  Phase = "streaming"
	PhaseTerminated Phase = "terminated"
)

// ErrAnswerFailed reports an upstream terminal failure for the query.
var ErrAnswerFailed = errors.New("answer generation failed")

// answerProvider is the slice of discovery.Client the orchestrator uses.
type answerProvider interface {
	Search(ctx context.Context, opts discovery.QueryOptions) (*discovery.SessionInfo, error)
	StreamAnswer(ctx context.Context, engineID string, session discovery.SessionInfo, query string) (io.ReadCloser, error)
}

// Publisher delivers an event to every member of a room.
type Publisher interface {
	Publish(roomID, event string, payload any, excludeConnID string)
}

// ExchangeRecord is the audit row written after each exchange.
type ExchangeRecord struct {
	SessionID string
	Query     string
	Outcome   string
	Chunks    int
	Duration  time.Duration
}

// Recorder persists exchange records. A nil Recorder disables auditing.
type Recorder interface {
	RecordExchange(ctx context.Context, rec ExchangeRecord) error
}

// Request identifies one answer exchange.
type Request struct {
	EngineID     string
	SessionID    string // empty starts a fresh session upstream
	Query        string
	LanguageCode string
	PageSize     int
}

// Result is the terminal outcome of an exchange.
type Result struct {
	Answer    stream.Answer
	SessionID string
	Chunks    int
	Duration  time.Duration
}

// StreamBuffer is the payload shape partials are published with. It mirrors
// the candidate layout downstream clients already consume.
type StreamBuffer struct {
	Candidates []Candidate `json:"candidates"`
}

type Candidate struct {
	Content Content `json:"content"`
}

type Content struct {
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

// Orchestrator runs answer exchanges against the provider and relays the
// partial chunks into the room named after the upstream session.
type Orchestrator struct {
	provider answerProvider
	rooms    Publisher
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(provider answerProvider, rooms Publisher, recorder Recorder, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider: provider,
		rooms:    rooms,
		recorder: recorder,
		metrics:  m,
		logger:   logger.With("component", "relay"),
	}
}

// Answer runs the full exchange. Partial chunks are published to the room
// keyed by the upstream session id as they arrive; the terminal answer is
// returned to the caller once the stream ends.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	phase := PhaseInit
	o.logger.Debug("exchange starting", "phase", phase, "engine", req.EngineID, "session", req.SessionID)

	phase = PhaseAuth
	info, err := o.provider.Search(ctx, discovery.QueryOptions{
		EngineID:     req.EngineID,
		SessionID:    req.SessionID,
		Query:        req.Query,
		LanguageCode: req.LanguageCode,
		PageSize:     req.PageSize,
	})
	if err != nil {
		if errors.Is(err, auth.ErrAuthentication) {
			o.finish(ctx, req, "", 0, start, "auth_failed")
			return nil, err
		}
		o.finish(ctx, req, "", 0, start, "search_failed")
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	sessionID := stream.SessionIDFromName(info.Name)
	phase = PhaseStreaming
	o.logger.Debug("exchange streaming", "phase", phase, "session", sessionID, "query_id", info.QueryID)

	body, err := o.provider.StreamAnswer(ctx, req.EngineID, *info, req.Query)
	if err != nil {
		o.finish(ctx, req, sessionID, 0, start, "stream_failed")
		return nil, err
	}
	defer body.Close()

	dec := stream.NewDecoder(body)
	chunks := 0
	for {
		chunk, err := dec.Next()
		if errors.Is(err, stream.ErrNoTerminalChunk) || errors.Is(err, io.EOF) {
			o.finish(ctx, req, sessionID, chunks, start, "truncated")
			return nil, stream.ErrNoTerminalChunk
		}
		if err != nil {
			o.finish(ctx, req, sessionID, chunks, start, "decode_failed")
			return nil, fmt.Errorf("decoding answer stream: %w", err)
		}

		if !chunk.Terminal() {
			o.publishPartial(sessionID, chunk.PartialText)
			chunks++
			continue
		}

		phase = PhaseTerminated
		if chunk.State == stream.StateFailed {
			o.finish(ctx, req, sessionID, chunks, start, "failed")
			return nil, fmt.Errorf("%w: session %s", ErrAnswerFailed, sessionID)
		}

		answer := *chunk.Answer
		if answer.SessionID == "" {
			answer.SessionID = sessionID
		}
		duration := o.finish(ctx, req, sessionID, chunks, start, "succeeded")
		o.logger.Info("exchange complete", "phase", phase, "session", sessionID, "chunks", chunks)
		return &Result{
			Answer:    answer,
			SessionID: sessionID,
			Chunks:    chunks,
			Duration:  duration,
		}, nil
	}
}

// publishPartial relays one streamed text fragment to the session room.
// Room members receive the bare buffer, the same shape the HTTP publish
// path delivers, so subscribers see one wire format for stream events.
func (o *Orchestrator) publishPartial(sessionID, text string) {
	payload := StreamBuffer{
		Candidates: []Candidate{{
			Content: Content{Parts: []Part{{Text: text}}},
		}},
	}
	o.rooms.Publish(sessionID, room.EventStream, payload, "")
	o.metrics.ChunksPublished.Inc()
}

// finish records the exchange outcome in metrics and the audit store.
func (o *Orchestrator) finish(ctx context.Context, req Request, sessionID string, chunks int, start time.Time, outcome string) time.Duration {
	duration := time.Since(start)
	o.metrics.Exchanges.WithLabelValues(outcome).Inc()
	o.metrics.ExchangeDuration.Observe(duration.Seconds())

	if o.recorder != nil {
		rec := ExchangeRecord{
			SessionID: sessionID,
			Query:     req.Query,
			Outcome:   outcome,
			Chunks:    chunks,
			Duration:  duration,
		}
		if err := o.recorder.RecordExchange(ctx, rec); err != nil {
			o.logger.Warn("failed to record exchange", "error", err)
		}
	}
	return duration
}
