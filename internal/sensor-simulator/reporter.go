package sensor_simulator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
)

// DefaultReportPath is the server route receiving sensor reports.
const DefaultReportPath = "/api/receive-sensor"

// Reporter delivers one averaged report to the irrigation server.
type Reporter interface {
	Report(ctx context.Context, r messages.SensorReport) error
}

// HTTPReporter posts reports as JSON.
type HTTPReporter struct {
	client *resty.Client
	path   string
}

func NewHTTPReporter(baseURL, path string, timeout time.Duration) *HTTPReporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if path == "" {
		path = DefaultReportPath
	}
	return &HTTPReporter{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		path: "/" + strings.TrimLeft(path, "/"),
	}
}

func (r *HTTPReporter) Report(ctx context.Context, rep messages.SensorReport) error {
	resp, err := r.client.R().SetContext(ctx).SetBody(rep).Post(r.path)
	if err != nil {
		return fmt.Errorf("report request error: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("report rejected: status %d", resp.StatusCode())
	}
	return nil
}
