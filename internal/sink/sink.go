// Package sink defines where gauge emissions go.
package sink

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/saasmeter/pkg/emission"
)

// Sink accepts gauge writes. Implementations must be safe for concurrent use.
type Sink interface {
	EmitGauge(name string, value float64, labels emission.Labels)
}

// PassSink is a Sink that wants to know where a collection pass starts and ends.
type PassSink interface {
	Sink

	// BeginPass marks the start of a pass.
	BeginPass()

	// CommitPass marks a pass that completed, possibly with isolated failures.
	CommitPass()

	// AbortPass marks a pass that failed before emitting anything.
	AbortPass()
}

// MultiSink fans out to multiple sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that writes to every given sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// EmitGauge writes to every sink.
func (m *MultiSink) EmitGauge(name string, value float64, labels emission.Labels) {
	for _, s := range m.sinks {
		s.EmitGauge(name, value, labels)
	}
}

// BeginPass forwards to every PassSink.
func (m *MultiSink) BeginPass() {
	for _, s := range m.sinks {
		if ps, ok := s.(PassSink); ok {
			ps.BeginPass()
		}
	}
}

// CommitPass forwards to every PassSink.
func (m *MultiSink) CommitPass() {
	for _, s := range m.sinks {
		if ps, ok := s.(PassSink); ok {
			ps.CommitPass()
		}
	}
}

// AbortPass forwards to every PassSink.
func (m *MultiSink) AbortPass() {
	for _, s := range m.sinks {
		if ps, ok := s.(PassSink); ok {
			ps.AbortPass()
		}
	}
}

// LogSink writes every emission to the logger at the given level.
type LogSink struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogSink creates a sink logging to the global logger.
func NewLogSink(level zerolog.Level) *LogSink {
	return &LogSink{logger: log.Logger, level: level}
}

// EmitGauge logs the emission.
func (l *LogSink) EmitGauge(name string, value float64, labels emission.Labels) {
	event := l.logger.WithLevel(l.level)
	if event == nil {
		return
	}
	event = event.Str("metric", name).Float64("value", value)
	for _, lbl := range labels {
		event = event.Str(lbl.Key, lbl.Value)
	}
	event.Msg("gauge")
}
