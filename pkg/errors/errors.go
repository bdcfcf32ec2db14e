package errors

import "fmt"

type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

type InvalidEnumValue struct {
	EnumName string
	IntValue uint8
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("Invalid enum value=%d (enum: %s)", e.IntValue, e.EnumName)
}

type InvalidLength struct {
	MessageName string
	Length      int32
}

func (e *InvalidLength) Error() string {
	return fmt.Sprintf("Invalid length prefix %d in message type %s", e.Length, e.MessageName)
}

type MissingFieldError struct {
	MessageName string
	FieldName   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Missing field %s in message type %s", e.FieldName, e.MessageName)
}

type NameCollision struct {
	CollisionContext string
	Name             string
}

func (e *NameCollision) Error() string {
	return fmt.Sprintf("Name collision for name '%s' in context '%s'", e.Name, e.CollisionContext)
}

// DenyError carries the human readable reason sent to a peer whose
// handshake was refused.
type DenyError struct {
	Reason string
}

func (e *DenyError) Error() string {
	return e.Reason
}

type UnknownPacketType struct {
	PacketType uint8
}

func (e *UnknownPacketType) Error() string {
	return fmt.Sprintf("Unhandled packet type %d", e.PacketType)
}
