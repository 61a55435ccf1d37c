// Package server exposes the streaming chat endpoint over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/logger"
)

// UnexpectedMessage is the only detail a client sees for failures that are
// neither configuration nor upstream problems.
const UnexpectedMessage = "Something went wrong. Please try again."

// Markers prefix the in-band failure fragment.
const (
	ConfigMarker     = "[config error]"
	UpstreamMarker   = "[upstream error]"
	UnexpectedMarker = "[unexpected error]"
)

// errClientGone is reported by relay when a fragment could not be delivered.
var errClientGone = errors.New("client disconnected")

// Streamer produces the reply for a validated chat request.
type Streamer interface {
	StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error)
}

// Server serves POST /api/chat/stream. Each request gets its own transcript
// and stream; the server itself only holds read-only configuration, the
// concurrency slots and the shutdown context.
type Server struct {
	config  Config
	chat    Streamer
	logger  *zap.Logger
	server  *fiber.App
	slots   *semaphore.Weighted
	metrics streamMetrics

	// streams are cancelled when the server shuts down.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a new Server.
func New(config Config, chat Streamer, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  config,
		chat:    chat,
		logger:  logger,
		server:  app,
		metrics: streamMetrics{collector: processMetrics},
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	if config.MaxConcurrentStreams > 0 {
		s.slots = semaphore.NewWeighted(int64(config.MaxConcurrentStreams))
	}

	origins := config.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(fiberrecover.New(fiberrecover.Config{EnableStackTrace: true}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  "GET,POST,OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Post("/api/chat/stream", s.handleChatStream)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	app.Get("/debug/vars", adaptor.HTTPHandler(expvar.Handler()))

	return s
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting chat server",
		zap.String("listen", s.config.ListenAddr),
		zap.Duration("stream_timeout", s.config.StreamTimeout),
		zap.Int("max_concurrent_streams", s.config.MaxConcurrentStreams),
	)

	return s.server.Listen(s.config.ListenAddr)
}

// RunWithListener serves on ln, for callers that pick the port themselves.
func (s *Server) RunWithListener(ln net.Listener) error {
	s.logger.Info("starting chat server", zap.String("listen", ln.Addr().String()))

	return s.server.Listener(ln)
}

// Shutdown cancels in-flight streams and stops the listener, waiting for
// connections to drain until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if err := s.server.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// handleChatStream validates the request and streams the reply as plain text.
// Once the status line is written every failure is reported in-band as the
// last fragment.
func (s *Server) handleChatStream(c *fiber.Ctx) error {
	startTime := time.Now()

	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Info("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	if problems := req.Validate(); len(problems) > 0 {
		s.logger.Info("rejected chat request", zap.Error(&llm.ValidationError{Problems: problems}))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(llm.ErrorResponse{Error: "invalid chat request", Detail: problems})
	}

	if s.slots != nil && !s.slots.TryAcquire(1) {
		s.metrics.rejected(fiber.StatusServiceUnavailable)
		s.logger.Warn("too many concurrent streams", zap.Int("max_concurrent_streams", s.config.MaxConcurrentStreams))
		return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: "too many concurrent streams, try again later"})
	}

	requestID := uuid.NewString()
	log := logger.WithRequestID(s.logger, requestID)
	log.Debug("received chat request",
		zap.Int("history_count", len(req.History)),
		zap.Int("message_chars", len(req.Message)),
	)

	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderXRequestID, requestID)

	s.metrics.started(requestID)
	streamsActive.Add(1)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			streamsActive.Add(-1)
			if s.slots != nil {
				s.slots.Release(1)
			}
		}()

		s.streamReply(w, req, requestID, log, startTime)
	}))

	return nil
}

// streamReply runs one completion and writes it to w, ending with a marker
// fragment on failure.
func (s *Server) streamReply(w *bufio.Writer, req llm.ChatRequest, requestID string, log *zap.Logger, startTime time.Time) {
	ctx, cancel := s.streamContext()
	defer cancel()

	counter := &llm.Counter{}

	defer func() {
		if r := recover(); r != nil {
			s.metrics.failed(requestID, kindUnexpected, UnexpectedMessage, 0, time.Since(startTime))
			log.Error("unexpected error",
				zap.Any("panic", r),
				zap.Stack("stack"),
				durationField(startTime),
				zap.Int("fragments_streamed", counter.Fragments),
			)
			writeMarker(w, UnexpectedMarker, UnexpectedMessage)
		}
	}()

	stream, err := s.chat.StreamChat(ctx, req)
	if err == nil {
		counter.Stream = stream
		err = relay(w, counter)
	}
	if errors.Is(err, errClientGone) {
		// Stop the upstream before anything else.
		cancel()
	}

	s.finish(ctx, w, requestID, log, err, counter, startTime)
}

func (s *Server) streamContext() (context.Context, context.CancelFunc) {
	if s.config.StreamTimeout > 0 {
		return context.WithTimeout(s.baseCtx, s.config.StreamTimeout)
	}
	return context.WithCancel(s.baseCtx)
}

// finish logs the outcome of a stream and writes the failure marker, if any.
func (s *Server) finish(ctx context.Context, w *bufio.Writer, requestID string, log *zap.Logger, err error, counter *llm.Counter, startTime time.Time) {
	fields := []zap.Field{
		durationField(startTime),
		zap.Int("fragments_streamed", counter.Fragments),
		zap.Int("characters_streamed", counter.Characters),
	}

	elapsed := time.Since(startTime)
	if err == nil {
		s.metrics.completed(requestID, elapsed)
		log.Info("chat stream completed", fields...)
		return
	}

	if errors.Is(err, errClientGone) {
		s.metrics.failed(requestID, kindCancelled, "client disconnected", 0, elapsed)
		log.Info("stream cancelled", append(fields, zap.String("reason", "client disconnected"))...)
		return
	}

	// A context error means the upstream read was interrupted by us, whatever
	// error the transport reported for it.
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.metrics.failed(requestID, kindTimeout, "stream timed out", 0, elapsed)
		log.Warn("stream timed out", append(fields, zap.Duration("stream_timeout", s.config.StreamTimeout))...)
		writeMarker(w, UpstreamMarker, "stream timed out")
		return
	case ctx.Err() != nil:
		s.metrics.failed(requestID, kindCancelled, "server shutting down", 0, elapsed)
		log.Info("stream cancelled", append(fields, zap.String("reason", "server shutting down"))...)
		return
	}

	if ce, ok := llm.AsConfigError(err); ok {
		s.metrics.failed(requestID, kindConfig, ce.Message, 0, elapsed)
		log.Error("configuration error", append(fields, zap.String("setting", ce.Setting), zap.Error(err))...)
		writeMarker(w, ConfigMarker, ce.Message)
		return
	}

	if ue, ok := llm.AsUpstreamError(err); ok {
		s.metrics.failed(requestID, kindUpstream, ue.Message, ue.StatusCode, elapsed)
		log.Warn("upstream error", append(fields,
			zap.String("backend", ue.Backend),
			zap.Int("status", ue.StatusCode),
			zap.Error(err),
		)...)
		writeMarker(w, UpstreamMarker, ue.Message)
		return
	}

	s.metrics.failed(requestID, kindUnexpected, UnexpectedMessage, 0, elapsed)
	log.Error("unexpected error", append(fields, zap.Error(err))...)
	writeMarker(w, UnexpectedMarker, UnexpectedMessage)
}

// relay copies fragments from stream to w in order, flushing after each one
// so nothing is coalesced. It stops pulling as soon as a write fails and
// always closes the stream.
func relay(w *bufio.Writer, stream llm.Stream) error {
	defer stream.Close()

	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := w.WriteString(frag); err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
	}
}

// writeMarker writes the final in-band failure fragment. The client may
// already be gone, so write errors are ignored.
func writeMarker(w *bufio.Writer, marker, message string) {
	_, _ = w.WriteString(marker + " " + message)
	_ = w.Flush()
}

func durationField(startTime time.Time) zap.Field {
	return zap.Int64("duration_ms", time.Since(startTime).Milliseconds())
}
