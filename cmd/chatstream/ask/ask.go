package askcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/server"
)

const askLongDesc string = `Send one message to a chatstream server and print the reply as
it streams in.

Prior turns can be supplied as a JSON array of {"role", "content"}
objects with --history. Generation options left unset use the
server's defaults.

Examples:
  chatstream ask "What is a goroutine?"
  chatstream ask --server http://192.168.1.42:8000 --temperature 0.7 "Tell me a joke"
  chatstream ask --history turns.json --render "Summarize our chat"`

const askShortDesc string = "Ask a chatstream server a question"

// errReplyFailed is returned when the reply ended with a failure marker. The
// marker itself has already been printed.
var errReplyFailed = errors.New("the server reported a failure")

var (
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
)

type askCommander struct {
	serverURL   string
	historyPath string
	maxTokens   int
	temperature float64
	topP        float64
	render      bool
}

func NewAskCmd() *cobra.Command {
	return newAskCmd(&askCommander{})
}

func newAskCmd(cmder *askCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.serverURL, "server", "s", "http://localhost:8000", "Base URL of the chatstream server")
	cmd.Flags().StringVar(&cmder.historyPath, "history", "", "Path to a JSON file of prior messages")
	cmd.Flags().IntVar(&cmder.maxTokens, "max-tokens", 0, "Maximum tokens to generate")
	cmd.Flags().Float64Var(&cmder.temperature, "temperature", 0, "Sampling temperature (0-2)")
	cmd.Flags().Float64Var(&cmder.topP, "top-p", 0, "Nucleus sampling threshold (0-1)")
	cmd.Flags().BoolVar(&cmder.render, "render", false, "Wait for the full reply and render it as markdown")

	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, message string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := c.buildRequest(cmd, message)
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("could not marshal request: %w", err)
	}

	url := strings.TrimRight(c.serverURL, "/") + "/api/chat/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rejection(resp)
	}

	out := cmd.OutOrStdout()
	p := &printer{out: out, styled: isTerminal(out)}

	if c.render {
		return p.rendered(resp.Body)
	}
	return p.streamed(resp.Body)
}

// buildRequest reads the history file and sets only the options the user
// passed, leaving the rest to the server defaults.
func (c *askCommander) buildRequest(cmd *cobra.Command, message string) (*llm.ChatRequest, error) {
	req := &llm.ChatRequest{Message: message}

	if c.historyPath != "" {
		data, err := os.ReadFile(c.historyPath)
		if err != nil {
			return nil, fmt.Errorf("could not read history: %w", err)
		}
		if err := json.Unmarshal(data, &req.History); err != nil {
			return nil, fmt.Errorf("could not parse history %s: %w", c.historyPath, err)
		}
	}

	flags := cmd.Flags()
	opts := &llm.Options{}
	if flags.Changed("max-tokens") {
		opts.MaxTokens = &c.maxTokens
	}
	if flags.Changed("temperature") {
		opts.Temperature = &c.temperature
	}
	if flags.Changed("top-p") {
		opts.TopP = &c.topP
	}
	if opts.MaxTokens != nil || opts.Temperature != nil || opts.TopP != nil {
		req.Options = opts
	}

	if problems := req.Validate(); len(problems) > 0 {
		return nil, &llm.ValidationError{Problems: problems}
	}
	return req, nil
}

func rejection(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var errResp llm.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(errResp.Detail) > 0 {
		return fmt.Errorf("server returned %d: %s: %s", resp.StatusCode, errResp.Error, strings.Join(errResp.Detail, "; "))
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Error)
}

// markers are the failure prefixes the server can end a reply with, each
// followed by a space.
var markers = []string{
	server.ConfigMarker + " ",
	server.UpstreamMarker + " ",
	server.UnexpectedMarker + " ",
}

type printer struct {
	out    io.Writer
	styled bool
	failed bool

	// held is reply text that could be the start of a marker split across
	// reads.
	held  string
	style lipgloss.Style
}

// streamed copies the body to out as it arrives. The failure marker is always
// the last thing the server writes.
func (p *printer) streamed(body io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			p.feed(string(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.flush()
			return fmt.Errorf("reading reply: %w", err)
		}
	}

	p.flush()
	fmt.Fprintln(p.out)
	if p.failed {
		return errReplyFailed
	}
	return nil
}

// rendered buffers the whole reply and renders it as markdown.
func (p *printer) rendered(body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}

	text := string(data)
	reply, marker := text, ""
	if i := markerIndex(text); i >= 0 {
		reply, marker = text[:i], text[i:]
	}

	if strings.TrimSpace(reply) != "" {
		fmt.Fprintln(p.out, renderMarkdown(reply, terminalWidth(p.out)))
	}
	if marker != "" {
		p.write(marker)
		fmt.Fprintln(p.out)
	}

	if p.failed {
		return errReplyFailed
	}
	return nil
}

// feed prints one read of the reply, holding back a trailing partial marker
// until the next read settles it.
func (p *printer) feed(chunk string) {
	if p.failed {
		p.emitMarker(chunk)
		return
	}

	text := p.held + chunk
	p.held = ""
	if markerIndex(text) >= 0 {
		p.write(text)
		return
	}

	cut := len(text) - partialMarkerLen(text)
	fmt.Fprint(p.out, text[:cut])
	p.held = text[cut:]
}

func (p *printer) flush() {
	if p.held != "" {
		fmt.Fprint(p.out, p.held)
		p.held = ""
	}
}

func (p *printer) write(chunk string) {
	i := markerIndex(chunk)
	if i < 0 {
		fmt.Fprint(p.out, chunk)
		return
	}

	p.failed = true
	p.style = errorStyle
	if strings.HasPrefix(chunk[i:], server.UpstreamMarker) {
		p.style = warningStyle
	}
	fmt.Fprint(p.out, chunk[:i])
	p.emitMarker(chunk[i:])
}

func (p *printer) emitMarker(text string) {
	if p.styled {
		text = p.style.Render(text)
	}
	fmt.Fprint(p.out, text)
}

func markerIndex(s string) int {
	first := -1
	for _, m := range markers {
		if i := strings.Index(s, m); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	return first
}

// partialMarkerLen is the length of the longest suffix of s that a marker
// starts with, without being a whole marker.
func partialMarkerLen(s string) int {
	longest := 0
	for _, m := range markers {
		for n := min(len(m)-1, len(s)); n > longest; n-- {
			if strings.HasSuffix(s, m[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

func renderMarkdown(text string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 100
}
