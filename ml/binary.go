package ml

import (
	"encoding/binary"
	"errors"
	"math"
)

var errTruncated = errors.New("unexpected end of data")

// binaryWriter appends little-endian fields to a byte slice.
type binaryWriter struct {
	buf []byte
}

func (w *binaryWriter) Bytes() []byte { return w.buf }

func (w *binaryWriter) putUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *binaryWriter) putUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *binaryWriter) putUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *binaryWriter) putInt32(v int) { w.putUint32(uint32(int32(v))) }

func (w *binaryWriter) putInt64(v int64) { w.putUint64(uint64(v)) }

func (w *binaryWriter) putFloat64(v float64) { w.putUint64(math.Float64bits(v)) }

func (w *binaryWriter) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *binaryWriter) putString(s string) {
	w.putUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *binaryWriter) putStrings(values []string) {
	w.putUint32(uint32(len(values)))
	for _, s := range values {
		w.putString(s)
	}
}

func (w *binaryWriter) putFloat64s(values []float64) {
	w.putUint32(uint32(len(values)))
	for _, v := range values {
		w.putFloat64(v)
	}
}

// binaryReader reads what binaryWriter wrote. The first failure sticks in err
// and every later read returns a zero value.
type binaryReader struct {
	data []byte
	off  int
	err  error
}

func (r *binaryReader) remaining() int { return len(r.data) - r.off }

func (r *binaryReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.remaining() < n {
		r.err = errTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *binaryReader) uint8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binaryReader) uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *binaryReader) uint64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *binaryReader) int32() int { return int(int32(r.uint32())) }

func (r *binaryReader) int64() int64 { return int64(r.uint64()) }

func (r *binaryReader) float64() float64 { return math.Float64frombits(r.uint64()) }

// length reads a count of items that each take at least size bytes and
// rejects counts the remaining data cannot hold.
func (r *binaryReader) length(size int) int {
	n := int(r.uint32())
	if r.err == nil && n*size > r.remaining() {
		r.err = errTruncated
		return 0
	}
	return n
}

func (r *binaryReader) bytes() []byte {
	n := r.length(1)
	b := r.next(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *binaryReader) string() string {
	n := r.length(1)
	return string(r.next(n))
}

func (r *binaryReader) strings() []string {
	n := r.length(4)
	values := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		values = append(values, r.string())
	}
	return values
}

func (r *binaryReader) float64s() []float64 {
	n := r.length(8)
	values := make([]float64, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		values = append(values, r.float64())
	}
	return values
}
