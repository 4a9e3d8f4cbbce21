package metrics

import "time"

// Multi fans observations out to several recorders.
type Multi []Recorder

func (m Multi) ObserveRun(status string, d time.Duration) {
	for _, r := range m {
		r.ObserveRun(status, d)
	}
}

func (m Multi) ObserveStage(stage, outcome string, d time.Duration) {
	for _, r := range m {
		r.ObserveStage(stage, outcome, d)
	}
}

func (m Multi) ObserveLLM(model, kind string, success bool, in, out int64, d time.Duration) {
	for _, r := range m {
		r.ObserveLLM(model, kind, success, in, out, d)
	}
}

func (m Multi) ObserveEmbedding(d time.Duration) {
	for _, r := range m {
		r.ObserveEmbedding(d)
	}
}

func (m Multi) SetIndexed(collection string, n int) {
	for _, r := range m {
		r.SetIndexed(collection, n)
	}
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveRun(string, time.Duration) {}
func (Nop) ObserveStage(string, string, time.Duration) {}
func (Nop) ObserveLLM(string, string, bool, int64, int64, time.Duration) {}
func (Nop) ObserveEmbedding(time.Duration) {}
func (Nop) SetIndexed(string, int) {}
