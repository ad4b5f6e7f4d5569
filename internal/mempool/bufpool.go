// Package mempool pools the buffers used to encode cell crops.
package mempool

import (
	"bytes"
	"image/png"
	"sync"
)

// maxPooledBuffer keeps a single oversized page crop from pinning memory.
const maxPooledBuffer = 4 << 20

var (
	bufferPools sync.Map // key: size class (int), value: *sync.Pool
	pngPool     sync.Pool
)

// sizeClass rounds n up to the next multiple of 4 KiB to reduce churn.
func sizeClass(n int) int {
	const step = 4096
	if n <= step {
		return step
	}
	r := (n + step - 1) / step
	return r * step
}

func poolFor(cls int) *sync.Pool {
	pAny, _ := bufferPools.LoadOrStore(cls, &sync.Pool{New: func() any {
		return bytes.NewBuffer(make([]byte, 0, cls))
	}})
	p, _ := pAny.(*sync.Pool)
	return p
}

// GetBuffer returns an empty buffer with room for at least n bytes, up to
// the pooled maximum. The caller must return it via PutBuffer when done.
func GetBuffer(n int) *bytes.Buffer {
	n = min(n, maxPooledBuffer)
	p := poolFor(sizeClass(n))
	if p == nil {
		return bytes.NewBuffer(make([]byte, 0, sizeClass(n)))
	}
	buf, ok := p.Get().(*bytes.Buffer)
	if !ok {
		buf = bytes.NewBuffer(make([]byte, 0, sizeClass(n)))
	}
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool. It is safe to pass nil.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	// Classify by capacity floor so Get never hands out a smaller buffer.
	cls := sizeClass(buf.Cap())
	if cls > buf.Cap() {
		cls -= 4096
	}
	if cls <= 0 {
		return
	}
	if p := poolFor(cls); p != nil {
		buf.Reset()
		p.Put(buf)
	}
}

// PNGEncoderPool shares png encoder state between concurrent encoders.
// It implements png.EncoderBufferPool.
type PNGEncoderPool struct{}

// Get implements png.EncoderBufferPool.
func (PNGEncoderPool) Get() *png.EncoderBuffer {
	b, _ := pngPool.Get().(*png.EncoderBuffer)
	return b
}

// Put implements png.EncoderBufferPool.
func (PNGEncoderPool) Put(b *png.EncoderBuffer) {
	pngPool.Put(b)
}
