package routing

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"
)

// NetworkProber measures the network path to one backend.
type NetworkProber interface {
	Probe(ctx context.Context, backend string) (NetworkUpdate, error)
}

// networkArchetype is a typical measurement profile for a class of backend.
type networkArchetype struct {
	name          string
	keywords      []string
	latencyMs     float64
	bandwidthMbps float64
	packetLoss    float64
	jitterMs      float64
}

var networkArchetypes = []networkArchetype{
	{name: "local", keywords: []string{"local", "disk", "memory"}, latencyMs: 2, bandwidthMbps: 1000, packetLoss: 0, jitterMs: 0.5},
	{name: "cdn", keywords: []string{"cdn", "huggingface", "cloudflare", "fastly"}, latencyMs: 25, bandwidthMbps: 150, packetLoss: 0.05, jitterMs: 3},
	{name: "cloud", keywords: []string{"s3", "gcs", "azure", "storacha", "r2", "b2", "drive"}, latencyMs: 60, bandwidthMbps: 80, packetLoss: 0.1, jitterMs: 8},
	{name: "archival", keywords: []string{"filecoin", "arweave", "glacier", "archive"}, latencyMs: 400, bandwidthMbps: 8, packetLoss: 1.5, jitterMs: 40},
	{name: "p2p", keywords: []string{"ipfs", "p2p", "swarm", "torrent"}, latencyMs: 180, bandwidthMbps: 20, packetLoss: 0.8, jitterMs: 25},
}

var defaultArchetype = networkArchetype{name: "default", latencyMs: 120, bandwidthMbps: 40, packetLoss: 0.5, jitterMs: 15}

func archetypeFor(backend string) networkArchetype {
	name := strings.ToLower(backend)
	for _, a := range networkArchetypes {
		for _, kw := range a.keywords {
			if strings.Contains(name, kw) {
				return a
			}
		}
	}
	return defaultArchetype
}

// SyntheticProber produces plausible measurements from the backend's name so a
// fresh deployment has network data before real probes exist. Each value is
// jittered by up to Spread in either direction.
type SyntheticProber struct {
	Spread float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticProber creates a prober; seed 0 seeds from the clock
func NewSyntheticProber(seed uint64) *SyntheticProber {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &SyntheticProber{Spread: 0.1, rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

func (p *SyntheticProber) Probe(ctx context.Context, backend string) (NetworkUpdate, error) {
	if err := ctx.Err(); err != nil {
		return NetworkUpdate{}, err
	}
	a := archetypeFor(backend)

	p.mu.Lock()
	defer p.mu.Unlock()
	return NetworkUpdate{
		LatencyMs:         Metric(p.jitter(a.latencyMs)),
		BandwidthMbps:     Metric(p.jitter(a.bandwidthMbps)),
		PacketLossPercent: Metric(p.jitter(a.packetLoss)),
		JitterMs:          Metric(p.jitter(a.jitterMs)),
	}, nil
}

func (p *SyntheticProber) jitter(v float64) float64 {
	return v * (1 + p.Spread*(2*p.rng.Float64()-1))
}

// HTTPProber times a HEAD request against each backend's endpoint. When a
// download URL is configured for the backend it also fetches it and derives
// bandwidth from the transfer rate.
type HTTPProber struct {
	Client       *http.Client
	Endpoints    map[string]string
	DownloadURLs map[string]string
	// MaxDownloadBytes caps how much of a download probe is read.
	MaxDownloadBytes int64
}

// NewHTTPProber creates a prober with a bounded client timeout
func NewHTTPProber(endpoints, downloads map[string]string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{
		Client:           &http.Client{Timeout: timeout},
		Endpoints:        endpoints,
		DownloadURLs:     downloads,
		MaxDownloadBytes: 8 << 20,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, backend string) (NetworkUpdate, error) {
	endpoint, ok := p.Endpoints[backend]
	if !ok || endpoint == "" {
		return NetworkUpdate{}, fmt.Errorf("no probe endpoint configured for backend %s", backend)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return NetworkUpdate{}, fmt.Errorf("build probe request for %s: %w", backend, err)
	}
	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return NetworkUpdate{}, fmt.Errorf("probe %s: %w", backend, err)
	}
	resp.Body.Close()
	update := NetworkUpdate{LatencyMs: Metric(float64(time.Since(start).Microseconds()) / 1000)}

	if url := p.DownloadURLs[backend]; url != "" {
		mbps, err := p.measureBandwidth(ctx, url)
		if err != nil {
			return update, fmt.Errorf("bandwidth probe %s: %w", backend, err)
		}
		update.BandwidthMbps = Metric(mbps)
	}
	return update, nil
}

func (p *HTTPProber) measureBandwidth(ctx context.Context, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	limit := p.MaxDownloadBytes
	if limit <= 0 {
		limit = 8 << 20
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start).Seconds()
	if n == 0 || elapsed <= 0 {
		return 0, fmt.Errorf("download returned no data")
	}
	return float64(n) * 8 / elapsed / 1_000_000, nil
}
