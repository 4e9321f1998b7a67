package claim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildagent/internal/config"
)

type fakeResponse struct {
	status int
	body   string
	err    error
}

// sequenceDoer replays canned responses; the last one repeats.
type sequenceDoer struct {
	responses []fakeResponse
	requests  []*http.Request
}

func (d *sequenceDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	i := len(d.requests) - 1
	if i >= len(d.responses) {
		i = len(d.responses) - 1
	}
	r := d.responses[i]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Header:     http.Header{},
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClaimURL(t *testing.T) {
	assert.Equal(t,
		"http://10.0.0.1:8080/api/build/task/claim?containerId=abc",
		ClaimURL("10.0.0.1", 8080, "abc"))
	assert.Equal(t,
		"http://host:80/api/build/task/claim?containerId=a+b%26c",
		ClaimURL("host", 80, "a b&c"))
}

func TestPollSequence(t *testing.T) {
	doer := &sequenceDoer{responses: []fakeResponse{
		{err: errors.New("connection refused")},
		{status: http.StatusOK, body: ""},
		{status: http.StatusOK, body: `{"agentId":"A1","secretKey":"S1","projectId":"P1"}`},
	}}
	var sleeps []time.Duration
	p := &Poller{
		URL:      "http://broker/api/build/task/claim?containerId=c1",
		Client:   doer,
		Interval: time.Second,
		Logger:   discardLogger(),
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}

	res, err := p.Poll(context.Background())
	require.NoError(t, err)

	assert.Len(t, doer.requests, 3)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)
	for _, req := range doer.requests {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "application/json", req.Header.Get("Accept"))
	}

	id := config.Identity{AgentID: "seed"}
	res.Apply(&id)
	assert.Equal(t, config.Identity{AgentID: "A1", SecretKey: "S1", ProjectID: "P1"}, id)
}

func TestAttempt(t *testing.T) {
	tests := []struct {
		name      string
		resp      fakeResponse
		wantState State
		wantErr   bool
	}{
		{name: "transport error", resp: fakeResponse{err: errors.New("timeout")}, wantState: Polling, wantErr: true},
		{name: "no content", resp: fakeResponse{status: http.StatusNoContent}, wantState: Polling},
		{name: "blank body", resp: fakeResponse{status: http.StatusOK, body: "  \n"}, wantState: Polling},
		{name: "server error with body", resp: fakeResponse{status: http.StatusInternalServerError, body: `{"agentId":"x"}`}, wantState: Polling},
		{name: "null body", resp: fakeResponse{status: http.StatusOK, body: "null"}, wantState: Polling},
		{name: "malformed body", resp: fakeResponse{status: http.StatusOK, body: "{"}, wantState: Polling, wantErr: true},
		{name: "non-string values", resp: fakeResponse{status: http.StatusOK, body: `{"agentId":1}`}, wantState: Claimed},
		{name: "array body", resp: fakeResponse{status: http.StatusOK, body: `["agentId"]`}, wantState: Polling, wantErr: true},
		{name: "claim", resp: fakeResponse{status: http.StatusOK, body: `{"agentId":"A1"}`}, wantState: Claimed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Poller{
				URL:    "http://broker/claim",
				Client: &sequenceDoer{responses: []fakeResponse{tt.resp}},
				Logger: discardLogger(),
			}
			state, res, err := p.Attempt(context.Background())
			assert.Equal(t, tt.wantState, state)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if state == Claimed {
				assert.NotEmpty(t, res)
			} else {
				assert.Nil(t, res)
			}
		})
	}
}

func TestAttemptKeepsScalarFields(t *testing.T) {
	body := `{"agentId":"A1","secretKey":"S1","projectId":"P1","executeCount":1,"retry":true,"ratio":0.5,"extra":null,"meta":{"a":"b"},"tags":["x"]}`
	p := &Poller{
		URL:    "http://broker/claim",
		Client: &sequenceDoer{responses: []fakeResponse{{status: http.StatusOK, body: body}}},
		Logger: discardLogger(),
	}

	state, res, err := p.Attempt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Claimed, state)
	assert.Equal(t, Result{
		"agentId":      "A1",
		"secretKey":    "S1",
		"projectId":    "P1",
		"executeCount": "1",
		"retry":        "true",
		"ratio":        "0.5",
	}, res)

	var id config.Identity
	res.Apply(&id)
	assert.Equal(t, config.Identity{AgentID: "A1", SecretKey: "S1", ProjectID: "P1"}, id)
}

func TestResultApplyIgnoresUnknownKeys(t *testing.T) {
	id := config.Identity{AgentID: "a", SecretKey: "s", ProjectID: "p", BuildMode: config.Docker}
	Result{"buildId": "b-1", "projectId": "p-2"}.Apply(&id)
	assert.Equal(t, config.Identity{AgentID: "a", SecretKey: "s", ProjectID: "p-2", BuildMode: config.Docker}, id)
}

func TestPollCancelled(t *testing.T) {
	doer := &sequenceDoer{responses: []fakeResponse{{status: http.StatusNoContent}}}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		URL:    "http://broker/claim",
		Client: doer,
		Logger: discardLogger(),
		Sleep: func(ctx context.Context, _ time.Duration) error {
			if len(doer.requests) == 2 {
				cancel()
			}
			return ctx.Err()
		},
	}

	res, err := p.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Len(t, doer.requests, 2)
}

func TestPollDefaultSleepHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := &Poller{URL: srv.URL, Client: srv.Client(), Interval: time.Hour, Logger: discardLogger()}
	_, err := p.Poll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollAgainstServer(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, ClaimPath, r.URL.Path)
		assert.Equal(t, "c-1", r.URL.Query().Get("containerId"))
		if calls < 2 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"agentId":"A1","secretKey":"S1","projectId":"P1"}`)
	}))
	defer srv.Close()

	p := &Poller{
		URL:      srv.URL + ClaimPath + "?containerId=c-1",
		Client:   srv.Client(),
		Interval: time.Millisecond,
		Logger:   discardLogger(),
	}
	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{"agentId": "A1", "secretKey": "S1", "projectId": "P1"}, res)
	assert.Equal(t, 2, calls)
}
