package stream

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/drywest/timsusofun/internal/chat"
)

// Frame is one outgoing message, encoded once and shared by every
// subscriber of a stream. The compressed form is produced on first use.
type Frame struct {
	Type chat.MessageType
	JSON []byte

	enc      *zstd.Encoder
	zOnce    sync.Once
	zPayload []byte
}

// NewFrame encodes msg. enc may be nil, in which case Compressed returns
// the plain JSON.
func NewFrame(msg chat.Message, enc *zstd.Encoder) (*Frame, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", msg.Type, err)
	}
	return &Frame{Type: msg.Type, JSON: data, enc: enc}, nil
}

// Compressed returns the zstd-compressed JSON.
func (f *Frame) Compressed() []byte {
	f.zOnce.Do(func() {
		if f.enc == nil {
			f.zPayload = f.JSON
			return
		}
		f.zPayload = f.enc.EncodeAll(f.JSON, nil)
	})
	return f.zPayload
}

// NewEncoder returns the zstd encoder shared by all frames. EncodeAll is
// safe for concurrent use.
func NewEncoder() (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return enc, nil
}
