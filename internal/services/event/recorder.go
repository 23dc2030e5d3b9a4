package event

import (
	"context"

	msg "github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
)

// Recorder writes the node's own valve events straight to the history
// bucket, without a broker round trip.
type Recorder struct {
	writer *Writer
}

func NewRecorder(w *Writer) *Recorder { return &Recorder{writer: w} }

func (r *Recorder) StateChanged(_ context.Context, evt msg.StateChangeEvent) {
	r.writer.Write(FromStateChange(evt))
}

func (r *Recorder) SessionClosed(_ context.Context, evt msg.IrrigationResultEvent) {
	r.writer.Write(FromResult(evt))
}

func (r *Recorder) ScheduleChanged(_ context.Context, evt msg.ScheduleChangedEvent) {
	r.writer.Write(FromScheduleChanged(evt))
}
