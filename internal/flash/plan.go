// Package flash copies a source image onto a raw block device in fixed-size
// chunks, optionally pausing and cycling an unmount/wait/remount sequence
// between chunks so USB controllers with small write buffers can drain.
package flash

import "fmt"

// Plan is the chunk layout for one write: a number of full chunks followed by
// one exact-sized remainder. Full chunks are addressed in chunk units and the
// remainder in bytes; the two units meet at RemainderOffset, which is the
// same byte position for source and destination.
type Plan struct {
	ChunkSize  int64
	FullChunks int64
	Remainder  int64
	TotalBytes int64
}

// NewPlan computes the chunk layout for a source of srcSize bytes.
func NewPlan(srcSize, chunkSize int64) (Plan, error) {
	if srcSize < 0 {
		return Plan{}, fmt.Errorf("source size %d is negative", srcSize)
	}
	if chunkSize <= 0 {
		return Plan{}, fmt.Errorf("chunk size %d must be positive", chunkSize)
	}

	return Plan{
		ChunkSize:  chunkSize,
		FullChunks: srcSize / chunkSize,
		Remainder:  srcSize % chunkSize,
		TotalBytes: srcSize,
	}, nil
}

// RemainderOffset is the byte offset of the remainder copy in both the source
// and the destination: full-chunk count times chunk size.
func (p Plan) RemainderOffset() int64 {
	return p.FullChunks * p.ChunkSize
}
