package event

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the single measurement every valve event is written to.
const Measurement = "valve_event"

// EventToPoint normalizza CommonEvent in un *write.Point per InfluxDB.
func EventToPoint(evt CommonEvent) *write.Point {
	// Tag (solo stringhe)
	tags := map[string]string{
		"event_type":     evt.EventType,
		"source_service": evt.SourceService,
		"severity":       evt.Severity,
	}
	if evt.NodeID != "" {
		tags["node_id"] = evt.NodeID
	}
	for k, v := range evt.Tags {
		if v != "" {
			tags[k] = v
		}
	}

	fields := map[string]interface{}{}
	for k, v := range evt.Fields {
		fields[k] = v
	}

	// almeno un field per punto
	if _, ok := fields["count"]; !ok {
		fields["count"] = int64(1)
	}

	return influxdb2.NewPoint(Measurement, tags, fields, evt.Timestamp)
}
