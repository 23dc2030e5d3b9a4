package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Session è una sessione di irrigazione chiusa, come esposta da /history.
type Session struct {
	NodeID     string  `json:"node_id,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	Trigger    string  `json:"trigger,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	ElapsedSec float64 `json:"elapsed_sec"`
	Time       string  `json:"time"` // RFC3339
}

// Querier è il sottoinsieme di api.QueryAPI usato qui.
type Querier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

type historyQueryParams struct {
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseHistory(r *http.Request, defMin, defLim, defTOms int) historyQueryParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return historyQueryParams{
		Minutes:   get("minutes", defMin, 1, 30*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
	}
}

func buildFlux(bucket string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r.event_type == %q)
  |> filter(fn: (r) => r._field == "elapsed_sec")
  |> keep(columns: ["_time","_value","node_id","session_id","trigger","reason"])
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, minutes, Measurement, TypeSession, limit)
}

func runHistory(w http.ResponseWriter, r *http.Request, q Querier, bucket string, defMin, defLim int) {
	p := parseHistory(r, defMin, defLim, 2000)

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
	defer cancel()

	res, err := q.Query(ctx, buildFlux(bucket, p.Minutes, p.Limit))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Error", "influx-query-error")
		_, _ = w.Write([]byte("[]"))
		return
	}
	defer func() { _ = res.Close() }()

	str := func(v interface{}) string {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}

	out := make([]Session, 0, p.Limit)
	for res.Next() {
		rec := res.Record()

		var elapsed float64
		switch v := rec.Value().(type) {
		case float64:
			elapsed = v
		case int64:
			elapsed = float64(v)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				elapsed = f
			}
		}

		out = append(out, Session{
			NodeID:     str(rec.ValueByKey("node_id")),
			SessionID:  str(rec.ValueByKey("session_id")),
			Trigger:    str(rec.ValueByKey("trigger")),
			Reason:     str(rec.ValueByKey("reason")),
			ElapsedSec: elapsed,
			Time:       rec.Time().UTC().Format(time.RFC3339),
		})
	}
	if res.Err() != nil {
		w.Header().Set("X-Error", "influx-iter-error")
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// GET /history?limit=20[&minutes=10080]
func NewHistoryHandler(q Querier, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runHistory(w, r, q, bucket, 7*24*60, 20)
	})
}
