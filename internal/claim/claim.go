// Package claim polls the local task broker until a build-less container is
// handed a task.
package claim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"buildagent/internal/config"
)

// ClaimPath is the broker endpoint a container claims its task from.
const ClaimPath = "/api/build/task/claim"

// Recognized claim fields.
const (
	KeyAgentID   = "agentId"
	KeySecretKey = "secretKey"
	KeyProjectID = "projectId"
)

// DefaultInterval is the fixed pause between two attempts.
const DefaultInterval = time.Second

// State of the poller after one attempt.
type State int

const (
	Polling State = iota
	Claimed
)

func (s State) String() string {
	if s == Claimed {
		return "claimed"
	}
	return "polling"
}

// Result holds the fields returned by a successful claim.
type Result map[string]string

// Apply writes the recognized claim fields into id. Unknown keys are ignored.
func (r Result) Apply(id *config.Identity) {
	for k, v := range r {
		switch k {
		case KeyAgentID:
			id.AgentID = v
		case KeySecretKey:
			id.SecretKey = v
		case KeyProjectID:
			id.ProjectID = v
		}
	}
}

// Doer sends HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// ClaimURL builds the claim URL for a container.
func ClaimURL(host string, port int, containerID string) string {
	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     ClaimPath,
		RawQuery: url.Values{"containerId": {containerID}}.Encode(),
	}
	return u.String()
}

// Poller repeatedly asks the broker for a task. The zero value is not usable;
// set URL at least.
type Poller struct {
	URL      string
	Client   Doer
	Interval time.Duration
	Logger   *slog.Logger

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller returns a poller for the broker described by cfg.
func NewPoller(cfg *config.Config, logger *slog.Logger) *Poller {
	return &Poller{
		URL:      ClaimURL(cfg.BrokerHost, cfg.BrokerPort, cfg.Hostname),
		Client:   &http.Client{Timeout: 10 * time.Second},
		Interval: cfg.PollInterval,
		Logger:   logger,
	}
}

// Poll blocks until a task is claimed or ctx is done. There is no retry
// limit; pass a context with a deadline to bound it.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	log := p.logger()
	log.Info("waiting for build-less task", "url", p.URL)

	for attempt := 1; ; attempt++ {
		state, res, err := p.Attempt(ctx)
		if err != nil {
			log.Warn("get build-less task failed, continue loop", "attempt", attempt, "error", err)
		}
		if state == Claimed {
			log.Info("build-less task claimed", "attempt", attempt)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

// Attempt issues a single claim request. A non-nil error is always
// transient and comes with state Polling.
func (p *Poller) Attempt(ctx context.Context) (State, Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Polling, nil, fmt.Errorf("building claim request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client().Do(req)
	if err != nil {
		return Polling, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Polling, nil, fmt.Errorf("reading claim response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || len(bytes.TrimSpace(body)) == 0 {
		p.logger().Info("no build-less task, continue loop", "status", resp.StatusCode)
		return Polling, nil, nil
	}

	res, err := decodeResult(body)
	if err != nil {
		return Polling, nil, fmt.Errorf("decoding claim response: %w", err)
	}
	if res == nil {
		// A literal JSON null carries no task.
		p.logger().Info("no build-less task, continue loop", "status", resp.StatusCode)
		return Polling, nil, nil
	}
	for _, k := range []string{KeyAgentID, KeySecretKey, KeyProjectID} {
		if _, ok := res[k]; !ok {
			p.logger().Warn("claim response is missing a field", "field", k)
		}
	}
	return Claimed, res, nil
}

// decodeResult reads a JSON object into a Result. String, number and bool
// values are kept as their string form; null and nested values are skipped.
// A JSON null body yields a nil Result.
func decodeResult(body []byte) (Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	res := make(Result, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) == 0 {
			continue
		}
		switch v[0] {
		case '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			res[k] = s
		case 't', 'f':
			res[k] = string(v)
		case 'n', '{', '[':
			// null and nested values carry nothing the agent uses.
		default:
			res[k] = string(v)
		}
	}
	return res, nil
}

func (p *Poller) sleep(ctx context.Context) error {
	d := p.Interval
	if d <= 0 {
		d = DefaultInterval
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Poller) client() Doer {
	if p.Client == nil {
		return http.DefaultClient
	}
	return p.Client
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
