package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"laundry-display-sync/config"
)

// snapshotEvents are the SSE event names that carry a device snapshot.
// Unnamed events arrive as "message".
var snapshotEvents = map[string]bool{
	"message":  true,
	"init":     true,
	"state":    true,
	"snapshot": true,
}

// StreamClient consumes a Server-Sent Events stream of device snapshots and
// reconnects after ReconnectWait whenever the stream ends.
type StreamClient struct {
	deviceID string
	cfg      config.TransportConfig
	sink     Sink
	client   *http.Client
	clock    clockwork.Clock
	loc      *time.Location
}

// NewStreamClient creates an SSE transport for one device.
func NewStreamClient(deviceID string, cfg config.TransportConfig, sink Sink, clock clockwork.Clock, loc *time.Location) *StreamClient {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 3 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &StreamClient{
		deviceID: deviceID,
		cfg:      cfg,
		sink:     sink,
		// No overall timeout: the response body stays open for the stream's lifetime.
		client: &http.Client{},
		clock:  clock,
		loc:    loc,
	}
}

// Run keeps a stream open until ctx is cancelled.
func (c *StreamClient) Run(ctx context.Context) {
	log.Info().Str("device_id", c.deviceID).Str("url", c.cfg.URL).Msg("starting snapshot stream")

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			log.Info().Str("device_id", c.deviceID).Msg("snapshot stream shutting down")
			return
		}
		if isEOF(err) {
			log.Info().Str("device_id", c.deviceID).Dur("retry_in", c.cfg.ReconnectWait).
				Msg("snapshot stream closed by server")
		} else {
			log.Warn().Err(err).Str("device_id", c.deviceID).Dur("retry_in", c.cfg.ReconnectWait).
				Msg("snapshot stream disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.cfg.ReconnectWait):
		}
	}
}

// consume opens one stream and reads it until it ends.
func (c *StreamClient) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}
	return c.read(resp.Body)
}

// read parses the event stream, delivering every snapshot-bearing event.
// It returns io.EOF when the server closes the stream.
func (c *StreamClient) read(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxPayloadBytes)

	var event string
	var data strings.Builder
	dispatch := func() {
		defer func() {
			event = ""
			data.Reset()
		}()
		if data.Len() == 0 {
			return
		}
		name := event
		if name == "" {
			name = "message"
		}
		if !snapshotEvents[name] {
			return
		}
		snapshot, err := Decode([]byte(data.String()), c.loc)
		if err != nil {
			log.Warn().Err(err).Str("device_id", c.deviceID).Str("event", name).Msg("dropping undecodable stream event")
			return
		}
		c.sink.OnSnapshot(snapshot)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keepalive
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	// An unterminated trailing event is discarded.
	return io.EOF
}

// isEOF reports whether err marks a clean end of stream.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
