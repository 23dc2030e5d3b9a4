package valve_controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
)

// Remote is the server side of the reconciler.
type Remote interface {
	FetchIntent(ctx context.Context) (messages.ValveIntent, error)
	FetchSchedules(ctx context.Context) ([]messages.RemoteSchedule, error)
}

// RemoteConfig locates the two polled endpoints.
type RemoteConfig struct {
	BaseURL      string
	IntentPath   string
	SchedulePath string
	Timeout      time.Duration
	// breaker: trips after Failures consecutive errors, stays open OpenFor
	Failures int
	OpenFor  time.Duration
}

// HTTPRemote polls the endpoints with resty. Each endpoint has its own
// circuit breaker so a dead schedule route does not silence the intent poll.
type HTTPRemote struct {
	client     *resty.Client
	intentPath string
	schedPath  string
	intentCB   *gobreaker.CircuitBreaker
	scheduleCB *gobreaker.CircuitBreaker
}

func mkCB(name string, fails int, openFor time.Duration) *gobreaker.CircuitBreaker {
	if fails <= 0 {
		fails = 3
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
	})
}

func NewHTTPRemote(cfg RemoteConfig) *HTTPRemote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &HTTPRemote{
		client:     client,
		intentPath: "/" + strings.TrimLeft(cfg.IntentPath, "/"),
		schedPath:  "/" + strings.TrimLeft(cfg.SchedulePath, "/"),
		intentCB:   mkCB("intent", cfg.Failures, cfg.OpenFor),
		scheduleCB: mkCB("schedules", cfg.Failures, cfg.OpenFor),
	}
}

// get fetches path through cb. Transport errors and non-2xx statuses count
// against the breaker; the body is not inspected here.
func (r *HTTPRemote) get(ctx context.Context, endpoint, path string, cb *gobreaker.CircuitBreaker) ([]byte, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RemotePollDuration.WithLabelValues(endpoint))

	out, err := cb.Execute(func() (interface{}, error) {
		resp, err := r.client.R().SetContext(ctx).Get(path)
		if err != nil {
			return nil, fmt.Errorf("%s request error: %w", endpoint, err)
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("%s upstream status %d", endpoint, resp.StatusCode())
		}
		return resp.Body(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RemotePolls.WithLabelValues(endpoint, "breaker_open").Inc()
			return nil, fmt.Errorf("%s breaker open: %w", endpoint, err)
		}
		metrics.RemotePolls.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	return out.([]byte), nil
}

func (r *HTTPRemote) FetchIntent(ctx context.Context) (messages.ValveIntent, error) {
	body, err := r.get(ctx, "intent", r.intentPath, r.intentCB)
	if err != nil {
		return messages.ValveIntent{}, err
	}
	intent, err := messages.DecodeIntent(body)
	if err != nil {
		metrics.RemotePolls.WithLabelValues("intent", "malformed").Inc()
		return messages.ValveIntent{}, err
	}
	metrics.RemotePolls.WithLabelValues("intent", "ok").Inc()
	return intent, nil
}

func (r *HTTPRemote) FetchSchedules(ctx context.Context) ([]messages.RemoteSchedule, error) {
	body, err := r.get(ctx, "schedules", r.schedPath, r.scheduleCB)
	if err != nil {
		return nil, err
	}
	list, err := messages.DecodeSchedules(body)
	if err != nil {
		metrics.RemotePolls.WithLabelValues("schedules", "malformed").Inc()
		return nil, err
	}
	metrics.RemotePolls.WithLabelValues("schedules", "ok").Inc()
	return list, nil
}
