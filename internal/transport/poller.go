package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"laundry-display-sync/config"
	"laundry-display-sync/internal/engine"
)

// maxPayloadBytes caps a single status response.
const maxPayloadBytes = 1 << 20

// Poller fetches a device's status endpoint on a fixed interval.
type Poller struct {
	deviceID string
	cfg      config.TransportConfig
	sink     Sink
	client   *http.Client
	clock    clockwork.Clock
	loc      *time.Location
	failures int
}

// NewPoller creates a poller for one device.
func NewPoller(deviceID string, cfg config.TransportConfig, sink Sink, clock clockwork.Clock, loc *time.Location) *Poller {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn().Err(err).Str("device_id", deviceID).Str("proxy", cfg.HTTPProxy).
				Msg("invalid proxy URL; poller will not use a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Poller{
		deviceID: deviceID,
		cfg:      cfg,
		sink:     sink,
		client: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		clock: clock,
		loc:   loc,
	}
}

// Run polls immediately and then on the configured interval, backing off
// while the endpoint keeps failing.
func (p *Poller) Run(ctx context.Context) {
	log.Info().Str("device_id", p.deviceID).Str("url", p.cfg.URL).Dur("interval", p.cfg.Interval).
		Msg("starting snapshot poller")

	p.PollOnce(ctx)

	timer := p.clock.NewTimer(p.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("device_id", p.deviceID).Msg("snapshot poller shutting down")
			return
		case <-timer.Chan():
			p.PollOnce(ctx)
			timer.Reset(p.nextDelay())
		}
	}
}

// PollOnce performs a single fetch and delivers the snapshot on success.
// It reports whether a snapshot was delivered.
func (p *Poller) PollOnce(ctx context.Context) bool {
	snapshot, err := p.fetch(ctx)
	if err != nil {
		p.failures++
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("device_id", p.deviceID).Int("consecutive_failures", p.failures).
				Msg("snapshot poll failed")
		}
		return false
	}
	p.failures = 0
	p.sink.OnSnapshot(snapshot)
	return true
}

// nextDelay doubles the interval for every consecutive failure up to MaxBackoff.
func (p *Poller) nextDelay() time.Duration {
	delay := p.cfg.Interval
	for i := 0; i < p.failures && delay < p.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > p.cfg.MaxBackoff {
		delay = p.cfg.MaxBackoff
	}
	return delay
}

func (p *Poller) fetch(ctx context.Context) (engine.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range p.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.Snapshot{}, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return Decode(body, p.loc)
}
