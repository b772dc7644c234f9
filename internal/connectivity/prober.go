package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fastprodman/pointsync/internal/infra/logging"
)

const healthPath = "/healthz"

// Prober feeds a Monitor by polling the remote health endpoint.
type Prober struct {
	client   *http.Client
	url      string
	interval time.Duration
	monitor  *Monitor
	logger   *slog.Logger
}

func NewProber(baseURL string, interval time.Duration, m *Monitor, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Prober{
		client:   &http.Client{Timeout: min(interval, 3*time.Second)},
		url:      strings.TrimRight(baseURL, "/") + healthPath,
		interval: interval,
		monitor:  m,
		logger:   logging.OrDefault(logger).With("component", "connectivity_prober"),
	}
}

// Probe reports whether the health endpoint answered 2xx.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Check probes once and records the result on the monitor.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.Probe(ctx)
	if ctx.Err() != nil {
		return p.monitor.IsOnline()
	}

	if p.monitor.Set(online) {
		p.logger.Info("remote reachability changed", "online", online, "url", p.url)
	}

	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Check(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
