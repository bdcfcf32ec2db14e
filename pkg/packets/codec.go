package packets

import (
	"encoding/binary"
	"math"

	"github.com/sessamekesh/coop-relay/pkg/errors"
)

type Vector3 struct {
	X, Y, Z float32
}

func (v Vector3) DistanceTo(o Vector3) float32 {
	dx := float64(v.X - o.X)
	dy := float64(v.Y - o.Y)
	dz := float64(v.Z - o.Z)
	return float32(math.Sqrt(dx*dx + dy*dy + dz*dz))
}

type Quaternion struct {
	X, Y, Z, W float32
}

//
// Writing

func AppendInt32(out []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(out, uint32(v))
}

func AppendInt64(out []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(out, uint64(v))
}

func AppendFloat32(out []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
}

func AppendBytes(out []byte, b []byte) []byte {
	out = AppendInt32(out, int32(len(b)))
	return append(out, b...)
}

func AppendString(out []byte, s string) []byte {
	return AppendBytes(out, []byte(s))
}

func AppendVector3(out []byte, v Vector3) []byte {
	out = AppendFloat32(out, v.X)
	out = AppendFloat32(out, v.Y)
	return AppendFloat32(out, v.Z)
}

func AppendQuaternion(out []byte, q Quaternion) []byte {
	out = AppendFloat32(out, q.X)
	out = AppendFloat32(out, q.Y)
	out = AppendFloat32(out, q.Z)
	return AppendFloat32(out, q.W)
}

//
// Reading

// Reader walks a little-endian payload, reporting Underflow errors named
// after the message being parsed.
type Reader struct {
	messageName string
	buf         []byte
	readPtr     int
}

func NewReader(messageName string, buf []byte) *Reader {
	return &Reader{
		messageName: messageName,
		buf:         buf,
	}
}

func (r *Reader) need(n int) error {
	if len(r.buf) < r.readPtr+n {
		return &errors.Underflow{
			MessageName: r.messageName,
			MsgSize:     len(r.buf),
			MinimumSize: r.readPtr + n,
		}
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.readPtr]
	r.readPtr++
	return b, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.readPtr : r.readPtr+4])
	r.readPtr += 4
	return int32(v), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.readPtr : r.readPtr+8])
	r.readPtr += 8
	return int64(v), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.readPtr : r.readPtr+4])
	r.readPtr += 4
	return math.Float32frombits(v), nil
}

// ReadBytes reads an int32 length prefix followed by that many bytes. The
// returned slice is a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	length, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, &errors.InvalidLength{
			MessageName: r.messageName,
			Length:      length,
		}
	}
	if err := r.need(int(length)); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, r.buf[r.readPtr:r.readPtr+int(length)])
	r.readPtr += int(length)
	return out, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadVector3() (Vector3, error) {
	var v Vector3
	var err error
	if v.X, err = r.ReadFloat32(); err != nil {
		return v, err
	}
	if v.Y, err = r.ReadFloat32(); err != nil {
		return v, err
	}
	v.Z, err = r.ReadFloat32()
	return v, err
}

func (r *Reader) ReadQuaternion() (Quaternion, error) {
	var q Quaternion
	var err error
	if q.X, err = r.ReadFloat32(); err != nil {
		return q, err
	}
	if q.Y, err = r.ReadFloat32(); err != nil {
		return q, err
	}
	if q.Z, err = r.ReadFloat32(); err != nil {
		return q, err
	}
	q.W, err = r.ReadFloat32()
	return q, err
}

func (r *Reader) Remaining() []byte {
	return r.buf[r.readPtr:]
}
