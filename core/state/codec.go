package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrCorrupt = errors.New("corrupt persisted state")

const crcLen = 4

// seal prepends the checksum of data.
func seal(data []byte) []byte {
	img := make([]byte, crcLen, crcLen+len(data))
	binary.LittleEndian.PutUint32(img, checksum(data))
	return append(img, data...)
}

// unseal verifies the checksum and returns the data region of img.
func unseal(img []byte) ([]byte, error) {
	if len(img) < crcLen {
		return nil, fmt.Errorf("%w: image too short (%d bytes)", ErrCorrupt, len(img))
	}
	data := img[crcLen:]
	want := binary.LittleEndian.Uint32(img)
	if got := checksum(data); got != want {
		return nil, fmt.Errorf("%w: checksum %#08x, want %#08x", ErrCorrupt, got, want)
	}
	return data, nil
}

type encoder struct {
	b []byte
}

func (e *encoder) u8(v uint8)    { e.b = append(e.b, v) }
func (e *encoder) i64(v int64)   { e.b = binary.LittleEndian.AppendUint64(e.b, uint64(v)) }
func (e *encoder) f64(v float64) { e.b = binary.LittleEndian.AppendUint64(e.b, math.Float64bits(v)) }
func (e *encoder) raw(v []byte)  { e.b = append(e.b, v...) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

// decoder reads fields sequentially. The first short read sticks in err and
// all later reads return zero values.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.err = fmt.Errorf("%w: truncated image", ErrCorrupt)
		return nil
	}
	v := d.b[:n]
	d.b = d.b[n:]
	return v
}

func (d *decoder) u8() uint8 {
	if v := d.take(1); v != nil {
		return v[0]
	}
	return 0
}

func (d *decoder) i64() int64 {
	if v := d.take(8); v != nil {
		return int64(binary.LittleEndian.Uint64(v))
	}
	return 0
}

func (d *decoder) f64() float64 {
	if v := d.take(8); v != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(v))
	}
	return 0
}

func (d *decoder) raw(n int) []byte {
	v := d.take(n)
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

func (d *decoder) bool() bool {
	return d.u8() != 0
}

func (d *decoder) finish() error {
	if d.err == nil && len(d.b) != 0 {
		d.err = fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(d.b))
	}
	return d.err
}
