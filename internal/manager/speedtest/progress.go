package speedtest

import (
	"io"
	"sync/atomic"
)

// progressReader counts bytes as they pass through.
type progressReader struct {
	io.Reader
	n atomic.Int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	pr.n.Add(int64(n))
	return n, err
}

func (pr *progressReader) Bytes() int64 { return pr.n.Load() }

// filler is an endless stream of 'x', served in chunkSize pieces.
type filler struct{}

const chunkSize = 256 << 10

var chunk = func() []byte {
	b := make([]byte, chunkSize)
	for i := range b {
		b[i] = 'x'
	}
	return b
}()

func (filler) Read(p []byte) (int, error) {
	return copy(p, chunk), nil
}
