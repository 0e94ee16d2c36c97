package flash

import (
	"fmt"
	"io"
	"time"

	"wsk-go/internal/ops"
)

// copyBufSize is the internal buffer used for each chunk copy.
const copyBufSize = 4 << 20

// Target is the destination device for a chunked write.
type Target interface {
	io.WriterAt
	Sync() error
}

// Cycler performs the unmount/remount sequence between chunks. A nil Cycler
// disables cycling.
type Cycler interface {
	Unmount() error
	Remount() error
}

// Writer performs chunked copies with optional inter-chunk pauses and
// unmount/wait/remount cycles.
type Writer struct {
	logger ops.Logger
	clock  ops.Clock

	// Pause is slept between consecutive chunk writes. Zero disables it.
	Pause time.Duration
	// CycleThreshold triggers an unmount/wait/remount cycle once this many
	// bytes have been written since the last cycle. Zero disables cycling.
	CycleThreshold int64
	// RemountWait is slept between the unmount and the remount of a cycle.
	RemountWait time.Duration
}

// NewWriter creates a Writer with the given timing knobs.
func NewWriter(logger ops.Logger, clock ops.Clock) *Writer {
	return &Writer{logger: logger, clock: clock}
}

// Write copies plan.TotalBytes bytes from src to dst. It returns
// the total bytes written, which on success equals plan.TotalBytes exactly:
// every full chunk plus the exact-sized remainder.
func (w *Writer) Write(src io.ReaderAt, dst Target, plan Plan, cycler Cycler) (int64, error) {
	var written, sinceCycle int64
	buf := make([]byte, copyBufSize)

	for i := int64(0); i < plan.FullChunks; i++ {
		if i > 0 {
			cycled, err := w.interChunk(sinceCycle, cycler)
			if err != nil {
				return written, err
			}
			if cycled {
				sinceCycle = 0
			}
		}

		offset := i * plan.ChunkSize
		n, err := w.copyRange(src, dst, offset, plan.ChunkSize, buf)
		written += n
		if err != nil {
			return written, fmt.Errorf("writing chunk %d at offset %d: %w", i, offset, err)
		}
		sinceCycle += n
		w.logger.Info("chunk written", "chunk", i, "offset", offset, "bytes", n)
	}

	if plan.Remainder > 0 {
		if plan.FullChunks > 0 {
			if _, err := w.interChunk(sinceCycle, cycler); err != nil {
				return written, err
			}
		}

		// The remainder is addressed in bytes; its offset agrees with the
		// chunk-unit addressing above on both source and destination.
		offset := plan.RemainderOffset()
		n, err := w.copyRange(src, dst, offset, plan.Remainder, buf)
		written += n
		if err != nil {
			return written, fmt.Errorf("writing remainder at offset %d: %w", offset, err)
		}
		w.logger.Info("remainder written", "offset", offset, "bytes", n)
	}

	if err := dst.Sync(); err != nil {
		return written, fmt.Errorf("syncing target: %w", err)
	}

	if written != plan.TotalBytes {
		return written, fmt.Errorf("wrote %d bytes, want %d", written, plan.TotalBytes)
	}
	return written, nil
}

// interChunk sleeps the configured pause and runs an unmount/wait/remount
// cycle when enough bytes have accumulated since the last one. It reports
// whether a cycle ran.
func (w *Writer) interChunk(sinceCycle int64, cycler Cycler) (bool, error) {
	if w.Pause > 0 {
		w.clock.Sleep(w.Pause)
	}

	if cycler == nil || w.CycleThreshold <= 0 || sinceCycle < w.CycleThreshold {
		return false, nil
	}

	w.logger.Info("cycling target mount", "bytes_since_cycle", sinceCycle)
	if err := cycler.Unmount(); err != nil {
		return false, fmt.Errorf("unmounting for cycle: %w", err)
	}
	if w.RemountWait > 0 {
		w.clock.Sleep(w.RemountWait)
	}
	if err := cycler.Remount(); err != nil {
		return false, fmt.Errorf("remounting after cycle: %w", err)
	}
	return true, nil
}

// copyRange copies length bytes from src to dst at the same offset in both.
func (w *Writer) copyRange(src io.ReaderAt, dst io.WriterAt, offset, length int64, buf []byte) (int64, error) {
	r := io.NewSectionReader(src, offset, length)
	n, err := io.CopyBuffer(io.NewOffsetWriter(dst, offset), r, buf)
	if err != nil {
		return n, err
	}
	if n != length {
		return n, fmt.Errorf("short copy: %d of %d bytes", n, length)
	}
	return n, nil
}

// ZeroSource is an io.ReaderAt producing zeros, used to wipe devices with
// the same chunked writer.
type ZeroSource struct{}

func (ZeroSource) ReadAt(p []byte, _ int64) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
