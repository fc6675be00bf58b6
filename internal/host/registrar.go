package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
)

// registerRequest mirrors spec.md §4.5's host-registration payload.
type registerRequest struct {
	HostID  string       `json:"host_id"`
	HostURL string       `json:"host_url"`
	Devices []DeviceInfo `json:"devices"`
}

type heartbeatRequest struct {
	HostID string `json:"host_id"`
}

// Registrar keeps a Host registered with its Server: one-shot register at
// startup, then a periodic heartbeat for as long as the context lives.
// Grounded on the teacher framework's RedisDiscovery.StartHeartbeat
// (ticker-driven goroutine, context-cancellable, heartbeat failures logged
// but never fatal -- "expected in distributed systems").
type Registrar struct {
	host       *Host
	serverURL  string
	client     *http.Client
	interval   time.Duration
	log        logger.Logger
}

// NewRegistrar builds a Registrar posting to serverURL's /host/register and
// /host/heartbeat endpoints every interval.
func NewRegistrar(h *Host, serverURL string, interval time.Duration, log logger.Logger) *Registrar {
	if log == nil {
		log = logger.Noop()
	}
	return &Registrar{
		host:      h,
		serverURL: serverURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		interval:  interval,
		log:       log,
	}
}

// Register posts this host's roster to the server once. Callers should
// retry at the process level if this fails at startup.
func (r *Registrar) Register(ctx context.Context) error {
	body, err := json.Marshal(registerRequest{HostID: r.host.ID, HostURL: r.host.URL, Devices: r.host.Devices()})
	if err != nil {
		return fmt.Errorf("marshal register request: %w", err)
	}
	return r.post(ctx, "/host/register", body)
}

// Start runs Register once, then heartbeats every r.interval until ctx is done.
func (r *Registrar) Start(ctx context.Context) {
	if err := r.Register(ctx); err != nil {
		r.log.Error("host registration failed", logger.Fields{"host_id": r.host.ID, "error": err.Error()})
	} else {
		r.log.Info("host registered", logger.Fields{"host_id": r.host.ID, "devices": len(r.host.Devices())})
	}

	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				body, err := json.Marshal(heartbeatRequest{HostID: r.host.ID})
				if err != nil {
					continue
				}
				if err := r.post(ctx, "/host/heartbeat", body); err != nil {
					// Heartbeat failures are expected in distributed systems;
					// the server's own missed-heartbeat counter is the
					// authority on availability, not this client.
					r.log.Warn("heartbeat failed", logger.Fields{"host_id": r.host.ID, "error": err.Error()})
				}
			}
		}
	}()
}

func (r *Registrar) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
