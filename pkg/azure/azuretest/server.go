// Package azuretest provides an in-process Azure OpenAI endpoint for tests.
package azuretest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/papercomputeco/chatstream/pkg/azure"
)

// Deployment is the deployment name Settings points at.
const Deployment = "chat-deployment"

// APIKey is the key Settings carries.
const APIKey = "test-key"

// Server speaks the Azure OpenAI streaming chat completions protocol. Set its
// fields before issuing requests.
type Server struct {
	*httptest.Server

	// Chunks are the content deltas to emit, one SSE event each. A nil entry
	// emits an event with no choices.
	Chunks []*string
	// AbortAfter aborts the connection after that many chunks when > 0.
	AbortAfter int
	// Hold keeps the stream open after the last chunk until the client goes
	// away.
	Hold bool
	// Status, when non-zero, is returned with ErrorBody instead of a stream.
	Status    int
	ErrorBody string

	mu       sync.Mutex
	requests []Request
}

// Request is what the server recorded about one call.
type Request struct {
	Path   string
	Query  string
	APIKey string
	Body   map[string]any
}

// Str returns a pointer to s, for building Chunks.
func Str(s string) *string { return &s }

// NewServer starts a server that streams chunks.
func NewServer(chunks ...string) *Server {
	s := &Server{}
	for _, c := range chunks {
		s.Chunks = append(s.Chunks, Str(c))
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Settings returns complete settings addressing this server.
func (s *Server) Settings() azure.Settings {
	return azure.Settings{
		APIKey:     APIKey,
		Endpoint:   s.URL,
		Deployment: Deployment,
		APIVersion: azure.DefaultAPIVersion,
		HTTPClient: s.Client(),
	}
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		APIKey: r.Header.Get("api-key"),
		Body:   body,
	})
	s.mu.Unlock()

	if s.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.Status)
		_, _ = io.WriteString(w, s.ErrorBody)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)

	for i, c := range s.Chunks {
		if s.AbortAfter > 0 && i == s.AbortAfter {
			panic(http.ErrAbortHandler)
		}

		event := map[string]any{"id": fmt.Sprintf("chunk-%d", i), "object": "chat.completion.chunk", "choices": []any{}}
		if c != nil {
			event["choices"] = []any{map[string]any{"index": 0, "delta": map[string]any{"content": *c}}}
		}
		data, _ := json.Marshal(event)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	if s.AbortAfter > 0 {
		panic(http.ErrAbortHandler)
	}
	if s.Hold {
		<-r.Context().Done()
		return
	}

	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}
