package pveapi

import (
	"sync"

	"github.com/go-logr/logr"
)

// Direction tells a LogSink whether a record is an outbound request or the reply.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// LogSink persists request/response pairs for the host platform. Payloads
// handed to a sink are always masked.
type LogSink interface {
	Log(tag, payload string, dir Direction, success bool)
}

// LogrSink forwards records to a logr.Logger.
type LogrSink struct {
	Logger logr.Logger
}

func (s LogrSink) Log(tag, payload string, dir Direction, success bool) {
	s.Logger.V(1).Info("hypervisor exchange", "tag", tag, "direction", string(dir), "success", success, "payload", payload)
}

// Record is one entry captured by RecordingSink.
type Record struct {
	Tag       string
	Payload   string
	Direction Direction
	Success   bool
}

// RecordingSink keeps every record in memory.
type RecordingSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *RecordingSink) Log(tag, payload string, dir Direction, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{Tag: tag, Payload: payload, Direction: dir, Success: success})
}

// Records returns a snapshot of the captured records.
func (s *RecordingSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}
