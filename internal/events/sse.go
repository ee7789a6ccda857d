package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"snowbridge/internal/backend"
)

// SSEReceiver consumes the orchestrator event stream over server-sent
// events at {base}/stream.
type SSEReceiver struct {
	baseURL string
	creds   CredentialsProvider
	http    *http.Client
	log     *slog.Logger

	guard loopGuard
}

var _ Receiver = (*SSEReceiver)(nil)

// NewSSEReceiver creates a receiver for the stream endpoint under baseURL.
func NewSSEReceiver(baseURL string, creds CredentialsProvider, log *slog.Logger) *SSEReceiver {
	return &SSEReceiver{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		// No client timeout: the stream stays open until one side
		// closes it.
		http: &http.Client{},
		log:  log,
	}
}

// Start begins consuming the stream in the background.
func (r *SSEReceiver) Start(ctx context.Context, h Handlers) {
	loopCtx, cancel := context.WithCancel(ctx)
	loopID := r.guard.begin(cancel)
	go runReceiveLoop(loopCtx, &r.guard, loopID, r.log, func() error {
		return r.consume(loopCtx, loopID, h)
	})
}

// Stop invalidates the consume loop and cancels the open connection.
func (r *SSEReceiver) Stop() {
	r.guard.end()
}

func (r *SSEReceiver) consume(ctx context.Context, loopID string, h Handlers) error {
	creds := r.creds.Credentials()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(backend.HeaderID, creds.ID)
	req.Header.Set(backend.HeaderToken, creds.Token)
	r.log.Info("connecting to event stream", "token_id", creds.ID)

	resp, err := r.http.Do(req)
	if err != nil {
		if !r.guard.current(loopID) {
			return nil
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("connect event stream: status %d", resp.StatusCode)
	}

	if h.Connected != nil {
		h.Connected()
	}
	if h.Disconnected != nil {
		defer h.Disconnected()
	}

	err = r.readEvents(ctx, resp.Body, loopID, h)
	if err != nil && r.guard.current(loopID) {
		return fmt.Errorf("event stream interrupted: %w", err)
	}
	return nil
}

// readEvents parses the text/event-stream body. Data lines accumulate until
// a blank line terminates the event. Comment and field lines other than
// data are skipped; the server only sends unnamed JSON events.
func (r *SSEReceiver) readEvents(ctx context.Context, body io.Reader, loopID string, h Handlers) error {
	reader := bufio.NewReader(body)
	var data strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed by server")
			}
			return err
		}
		if !r.guard.current(loopID) {
			return nil
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if data.Len() > 0 && h.Event != nil {
				h.Event(ctx, json.RawMessage(data.String()))
			}
			data.Reset()
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(after, " "))
		}
	}
}
