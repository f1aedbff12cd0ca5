package events

// Event represents a structured state change emitted by the platform.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder retains every emitted event in order. The node wires one recorder
// across all engines so observers can replay the lifecycle of an operation.
type Recorder struct {
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	r.events = append(r.events, evt)
}

// Events returns the recorded events in emission order.
func (r *Recorder) Events() []Event {
	return append([]Event(nil), r.events...)
}

// Reset discards all recorded events.
func (r *Recorder) Reset() { r.events = r.events[:0] }
