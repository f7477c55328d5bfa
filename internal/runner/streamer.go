package runner

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// syncWriter serializes writes from streamers sharing one file
// descriptor so concurrently emitted lines never interleave.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// write emits the given byte slices as one atomic unit.
func (w *syncWriter) write(chunks ...[]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range chunks {
		_, _ = w.w.Write(p)
	}
}

// streamer follows one (task, stream type) pair of the allocation,
// reassembling line boundaries across log frames. It owns its offset and
// tail buffer exclusively; the stop channel is its only shared input.
type streamer struct {
	sched        Scheduler
	allocID      string
	task         string
	logType      string
	out          *syncWriter
	prefix       []byte
	lineBuffered bool
	pollInterval time.Duration
	logger       *slog.Logger
}

// run polls the stream until stop is closed and the stream has drained.
// After stop it keeps polling without sleeping until an empty frame
// confirms nothing more arrived between the last poll and the stop.
//
// A transport failure abandons this stream only; the run carries on.
func (s *streamer) run(ctx context.Context, stop <-chan struct{}) {
	var (
		offset   int64
		tail     []byte
		draining bool
	)

	for {
		chunk, err := s.sched.LogChunk(ctx, s.allocID, s.task, s.logType, offset)
		if err != nil {
			s.logger.Error("log streaming failed",
				"alloc_id", s.allocID,
				"task", s.task,
				"type", s.logType,
				"error", err,
			)
			break
		}

		if len(chunk.Data) > 0 {
			if s.lineBuffered || len(s.prefix) > 0 {
				tail = s.emitLines(append(tail, chunk.Data...))
			} else {
				s.out.write(chunk.Data)
			}
			offset = chunk.Offset
		} else if draining {
			break
		}

		if !draining {
			select {
			case <-stop:
				draining = true
			case <-time.After(s.pollInterval):
			}
		}
	}

	if len(tail) > 0 {
		// Nomad appears to always terminate the last line, but do not
		// rely on it.
		s.out.write(s.prefix, tail, []byte("\n"))
	}
}

// emitLines writes every complete line in buf, prefix attached, and
// returns the unterminated remainder.
func (s *streamer) emitLines(buf []byte) []byte {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return buf
		}
		s.out.write(s.prefix, buf[:i+1])
		buf = buf[i+1:]
	}
}
