// Session: byte-stream intake, line framing, dispatch, and telemetry
// cadence for one host connection.
//
// A reader goroutine moves raw bytes into a channel; the loop side of
// the channel is drained only at Poll, so commands arriving mid-tick
// are processed at the next tick's intake and never race the current
// tick's actuator writes.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package transport

import (
	"io"

	"roastctl/pkg/log"
	"roastctl/pkg/metrics"
	"roastctl/pkg/roaster"
	"roastctl/pkg/safety"
)

// Transport timing and sizing constants.
const (
	DisconnectTimeoutMS uint64 = 5000
	StateSendIntervalMS uint64 = 1000
	MaxLineBytes               = 512
)

// Core is the slice of the controller the session drives: command
// dispatch in, state snapshots out.
type Core interface {
	HandleCommand(roaster.Command)
	Snapshot() roaster.Snapshot
}

// Session frames one host connection. All methods except the reader
// goroutine run on the tick loop's goroutine; the reader only writes to
// the incoming channel.
type Session struct {
	w      io.Writer
	core   Core
	logger *log.Logger
	met    *metrics.RoasterMetrics

	incoming chan []byte
	done     chan struct{}

	buf []byte

	active         bool
	lastActivityMS uint64
	lastStateMS    uint64

	taps []func([]byte)
}

// NewSession creates a session writing outbound messages to w. met may
// be nil.
func NewSession(w io.Writer, core Core, met *metrics.RoasterMetrics) *Session {
	return &Session{
		w:        w,
		core:     core,
		logger:   log.New("transport"),
		met:      met,
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
		buf:      make([]byte, 0, MaxLineBytes),
	}
}

// AddTap registers a read-only observer of every outbound message (the
// WebSocket mirror, the MQTT publisher). Taps receive the serialized
// message without the trailing newline and must not block.
func (s *Session) AddTap(fn func([]byte)) {
	s.taps = append(s.taps, fn)
}

// StartReader spawns the goroutine that moves bytes from r into the
// session's intake channel. Chunks that arrive while the channel is
// full are dropped rather than blocking the port.
func (s *Session) StartReader(r io.Reader) {
	go func() {
		chunk := make([]byte, 256)
		for {
			select {
			case <-s.done:
				return
			default:
			}
			n, err := r.Read(chunk)
			if n > 0 {
				cp := make([]byte, n)
				copy(cp, chunk[:n])
				select {
				case s.incoming <- cp:
				default:
					s.logger.Warn("intake channel full, dropping %d bytes", n)
				}
			}
			if err != nil {
				if err != io.EOF {
					s.logger.Error("read: %v", err)
				}
				return
			}
		}
	}()
}

// Close stops the reader goroutine.
func (s *Session) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Poll runs the session's intake work: drain inbound bytes, frame and
// dispatch complete lines, detect host silence. Called at the top of
// the tick, before the controller runs.
func (s *Session) Poll(nowMS uint64) {
	for {
		select {
		case chunk := <-s.incoming:
			s.ingest(chunk, nowMS)
			continue
		default:
		}
		break
	}

	if s.active && nowMS-s.lastActivityMS >= DisconnectTimeoutMS {
		s.active = false
		s.logger.Warn("host silent for %dms, posting DISCONNECTED", nowMS-s.lastActivityMS)
		if s.met != nil {
			s.met.RecordDisconnect()
		}
		s.core.HandleCommand(roaster.Command{Event: roaster.EventDisconnected})
	}
}

// EmitDue emits the periodic roasterState message when one is due.
// Called after the controller's tick so the telemetry reflects the same
// tick's actuator writes.
func (s *Session) EmitDue(nowMS uint64) {
	if s.active && nowMS-s.lastStateMS >= StateSendIntervalMS {
		s.SendState(nowMS)
		s.lastStateMS = nowMS
	}
}

// ingest consumes one chunk of inbound bytes. Any byte counts as
// activity; a completed line is parsed and dispatched immediately.
func (s *Session) ingest(chunk []byte, nowMS uint64) {
	s.lastActivityMS = nowMS
	if !s.active {
		s.active = true
		s.SendConnected(nowMS)
	}

	for _, b := range chunk {
		switch b {
		case '\n':
			if len(s.buf) > 0 {
				s.handleLine(s.buf, nowMS)
				s.buf = s.buf[:0]
			}
		case '\r':
			// Ignored.
		default:
			if len(s.buf) >= MaxLineBytes {
				// Overflow: reset and keep accumulating; the eventual
				// tail fails to parse and is dropped.
				s.buf = s.buf[:0]
				if s.met != nil {
					s.met.RecordParseError()
				}
			}
			s.buf = append(s.buf, b)
		}
	}
}

func (s *Session) handleLine(line []byte, nowMS uint64) {
	in := ParseLine(line)
	switch in.Kind {
	case KindCommand:
		if s.met != nil {
			s.met.RecordCommand(in.Type, false)
		}
		s.core.HandleCommand(in.Cmd)
	case KindGetState:
		s.SendState(nowMS)
		s.lastStateMS = nowMS
	case KindDebug:
		s.logger.Debug("debug hook %q is a no-op", in.Type)
	case KindIgnored:
		s.logger.Debug("dropping unrecognized line (type %q)", in.Type)
		if s.met != nil {
			s.met.RecordCommand(in.Type, true)
		}
	}
}

// Active reports whether the host has been heard from within the
// disconnect window.
func (s *Session) Active() bool { return s.active }

// SendState emits one roasterState message.
func (s *Session) SendState(ts uint64) {
	s.write(EncodeState(s.core.Snapshot(), ts), "roasterState")
}

// SendConnected emits the firmware handshake.
func (s *Session) SendConnected(ts uint64) {
	s.write(EncodeConnected(ts), "connected")
}

// SendRoastEvent emits a milestone, stamped with the chamber reading
// from the current snapshot.
func (s *Session) SendRoastEvent(event string, roastTimeMS uint64, ts uint64) {
	snap := s.core.Snapshot()
	s.write(EncodeRoastEvent(event, roastTimeMS, snap.ChamberTemp, snap.ChamberValid, ts), "roastEvent")
}

// SendError emits a newly latched fault immediately, without waiting
// for the next telemetry tick.
func (s *Session) SendError(f safety.Fault, ts uint64) {
	s.write(EncodeError(f, ts), "error")
}

// SendLog emits a host-facing log message.
func (s *Session) SendLog(level, source, message string, ts uint64) {
	s.write(EncodeLog(level, source, message, ts), "log")
}

func (s *Session) write(msg []byte, msgType string) {
	if msg == nil {
		return
	}
	if _, err := s.w.Write(append(msg, '\n')); err != nil {
		s.logger.Error("write %s: %v", msgType, err)
	}
	if s.met != nil {
		s.met.RecordTelemetry(msgType)
	}
	for _, tap := range s.taps {
		tap(msg)
	}
}
