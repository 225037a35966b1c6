// Package protocolbuf supplies internal/wire/client.go's writeCommand
// with a reusable *bytes.Buffer for framing a RESP request (command name
// plus its single JSON-encoded document/shard-key argument), instead of
// allocating a fresh buffer per command sent.
package protocolbuf

import (
	"bytes"
	"sync"
)

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// GetBuffer returns an empty buffer from the pool, for one RESP command
// frame; a freshly allocated buffer starts with zero capacity.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns buf to the pool after writeCommand has flushed its
// contents to the wire.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
