package packets

import (
	"encoding/binary"

	"github.com/sessamekesh/coop-relay/pkg/errors"
)

// Packet is implemented by every payload type carried in a frame.
type Packet interface {
	Type() PacketType
	Pack() []byte
	Unpack(payload []byte) error
}

// Frame packs p as type byte + int32 length + payload.
func Frame(p Packet) []byte {
	return RawFrame(p.Type(), p.Pack())
}

func RawFrame(packetType PacketType, payload []byte) []byte {
	out := make([]byte, 0, 5+len(payload))
	out = append(out, byte(packetType))
	return AppendBytes(out, payload)
}

// ParseFrame splits a payload frame into its type and payload. Trailing bytes
// beyond the declared length are rejected.
func ParseFrame(frame []byte) (PacketType, []byte, error) {
	if len(frame) < 1 {
		return 0, nil, &errors.Underflow{
			MessageName: "Frame",
			MsgSize:     len(frame),
			MinimumSize: 1,
		}
	}

	r := NewReader("Frame", frame[1:])
	payload, err := r.ReadBytes()
	if err != nil {
		return 0, nil, err
	}
	if len(r.Remaining()) > 0 {
		return 0, nil, &errors.InvalidLength{
			MessageName: "Frame",
			Length:      int32(len(payload)),
		}
	}

	return PacketType(frame[0]), payload, nil
}

// PeekType returns the packet type discriminant of a frame.
func PeekType(frame []byte) (PacketType, error) {
	if len(frame) < 1 {
		return 0, &errors.Underflow{
			MessageName: "Frame",
			MsgSize:     0,
			MinimumSize: 1,
		}
	}
	return PacketType(frame[0]), nil
}

func RequestFrame(id int32, p Packet) []byte {
	return envelope(PacketType_Request, id, p.Type(), p.Pack())
}

func ResponseFrame(id int32, p Packet) []byte {
	return envelope(PacketType_Response, id, p.Type(), p.Pack())
}

func envelope(kind PacketType, id int32, inner PacketType, payload []byte) []byte {
	out := make([]byte, 0, 10+len(payload))
	out = append(out, byte(kind))
	out = binary.LittleEndian.AppendUint32(out, uint32(id))
	out = append(out, byte(inner))
	return AppendBytes(out, payload)
}

type Envelope struct {
	Kind      PacketType
	ID        int32
	InnerType PacketType
	Payload   []byte
}

// ParseEnvelope reads a Request or Response frame.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	r := NewReader("Envelope", frame)
	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if PacketType(kind) != PacketType_Request && PacketType(kind) != PacketType_Response {
		return nil, &errors.InvalidEnumValue{
			EnumName: "Envelope::Kind",
			IntValue: kind,
		}
	}
	id, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	inner, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	payload, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Kind:      PacketType(kind),
		ID:        id,
		InnerType: PacketType(inner),
		Payload:   payload,
	}, nil
}
