package wire

import (
	"encoding/binary"
	"fmt"
)

// Decoder turns a byte stream into frames. Bytes that do not yet form a complete
// frame are kept and prepended to the next chunk passed to Feed.
//
// A Decoder is not safe for concurrent use; each connection owns one.
type Decoder struct {
	buf        []byte
	maxPayload int64
}

// NewDecoder creates a decoder that rejects frames whose declared payload exceeds
// maxPayload bytes. A non-positive limit selects DefaultMaxFrameBytes.
func NewDecoder(maxPayload int64) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxFrameBytes
	}
	return &Decoder{maxPayload: maxPayload}
}

// Feed appends chunk to the pending buffer and returns every complete frame it
// now holds, in wire order. On error the frames decoded before the bad header
// are still returned and the decoder should be discarded.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	offset := 0
	for {
		frame, n, err := parseFrame(d.buf[offset:], d.maxPayload)
		if err != nil {
			d.compact(offset)
			return frames, err
		}
		if n == 0 {
			break
		}
		frames = append(frames, frame)
		offset += n
	}
	d.compact(offset)
	return frames, nil
}

// Buffered reports how many undecoded bytes are pending.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any pending partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *Decoder) compact(consumed int) {
	if consumed == 0 {
		return
	}
	rest := copy(d.buf, d.buf[consumed:])
	d.buf = d.buf[:rest]
}

// parseFrame decodes one frame from the head of raw. It returns n == 0 when raw
// does not yet contain the whole frame.
func parseFrame(raw []byte, maxPayload int64) (Frame, int, error) {
	if len(raw) < 2 {
		return Frame{}, 0, nil
	}

	frame := Frame{
		Fin:    raw[0]&finBit != 0,
		Opcode: Opcode(raw[0] & 0x0F),
		Masked: raw[1]&maskBit != 0,
	}
	length := uint64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case len16Marker:
		if len(raw) < offset+2 {
			return Frame{}, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case len64Marker:
		if len(raw) < offset+8 {
			return Frame{}, 0, nil
		}
		length = binary.BigEndian.Uint64(raw[offset:])
		offset += 8
	}

	if length > uint64(maxPayload) {
		return Frame{}, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxPayload)
	}
	if frame.Opcode&0x8 != 0 && length > 125 {
		return Frame{}, 0, ErrControlTooBig
	}

	if frame.Masked {
		if len(raw) < offset+4 {
			return Frame{}, 0, nil
		}
		copy(frame.MaskKey[:], raw[offset:offset+4])
		offset += 4
	}

	end := offset + int(length)
	if len(raw) < end {
		return Frame{}, 0, nil
	}

	frame.Payload = make([]byte, length)
	copy(frame.Payload, raw[offset:end])
	if frame.Masked {
		MaskBytes(frame.MaskKey, frame.Payload)
	}
	return frame, end, nil
}
