package packets

import "github.com/sessamekesh/coop-relay/pkg/errors"

// Unpack implementations read the fields they know about and ignore any
// trailing bytes, so newer clients may append fields without breaking relay.

//
// Session

type Handshake struct {
	PedID             int32
	Username          string
	ModVersion        string
	AesKeyCrypted     []byte
	AesIVCrypted      []byte
	PassHashEncrypted []byte
}

func (p *Handshake) Type() PacketType { return PacketType_Handshake }

func (p *Handshake) Pack() []byte {
	out := AppendInt32(nil, p.PedID)
	out = AppendString(out, p.Username)
	out = AppendString(out, p.ModVersion)
	out = AppendBytes(out, p.AesKeyCrypted)
	out = AppendBytes(out, p.AesIVCrypted)
	return AppendBytes(out, p.PassHashEncrypted)
}

func (p *Handshake) Unpack(payload []byte) error {
	r := NewReader("Handshake", payload)
	var err error
	if p.PedID, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.Username, err = r.ReadString(); err != nil {
		return err
	}
	if p.ModVersion, err = r.ReadString(); err != nil {
		return err
	}
	if p.AesKeyCrypted, err = r.ReadBytes(); err != nil {
		return err
	}
	if p.AesIVCrypted, err = r.ReadBytes(); err != nil {
		return err
	}
	p.PassHashEncrypted, err = r.ReadBytes()
	return err
}

type PlayerConnect struct {
	PedID    int32
	Username string
}

func (p *PlayerConnect) Type() PacketType { return PacketType_PlayerConnect }

func (p *PlayerConnect) Pack() []byte {
	return AppendString(AppendInt32(nil, p.PedID), p.Username)
}

func (p *PlayerConnect) Unpack(payload []byte) error {
	r := NewReader("PlayerConnect", payload)
	var err error
	if p.PedID, err = r.ReadInt32(); err != nil {
		return err
	}
	p.Username, err = r.ReadString()
	return err
}

type PlayerDisconnect struct {
	PedID int32
}

func (p *PlayerDisconnect) Type() PacketType { return PacketType_PlayerDisconnect }

func (p *PlayerDisconnect) Pack() []byte {
	return AppendInt32(nil, p.PedID)
}

func (p *PlayerDisconnect) Unpack(payload []byte) error {
	var err error
	p.PedID, err = NewReader("PlayerDisconnect", payload).ReadInt32()
	return err
}

type PlayerInfoUpdate struct {
	PedID    int32
	Username string
	Latency  float32
}

func (p *PlayerInfoUpdate) Type() PacketType { return PacketType_PlayerInfoUpdate }

func (p *PlayerInfoUpdate) Pack() []byte {
	out := AppendInt32(nil, p.PedID)
	out = AppendString(out, p.Username)
	return AppendFloat32(out, p.Latency)
}

func (p *PlayerInfoUpdate) Unpack(payload []byte) error {
	r := NewReader("PlayerInfoUpdate", payload)
	var err error
	if p.PedID, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.Username, err = r.ReadString(); err != nil {
		return err
	}
	p.Latency, err = r.ReadFloat32()
	return err
}

type PublicKeyRequest struct{}

func (p *PublicKeyRequest) Type() PacketType      { return PacketType_PublicKeyRequest }
func (p *PublicKeyRequest) Pack() []byte          { return nil }
func (p *PublicKeyRequest) Unpack(_ []byte) error { return nil }

type PublicKeyResponse struct {
	Modulus  []byte
	Exponent []byte
}

func (p *PublicKeyResponse) Type() PacketType { return PacketType_PublicKeyResponse }

func (p *PublicKeyResponse) Pack() []byte {
	return AppendBytes(AppendBytes(nil, p.Modulus), p.Exponent)
}

func (p *PublicKeyResponse) Unpack(payload []byte) error {
	r := NewReader("PublicKeyResponse", payload)
	var err error
	if p.Modulus, err = r.ReadBytes(); err != nil {
		return err
	}
	p.Exponent, err = r.ReadBytes()
	return err
}

//
// Chat + scripting

type ChatMessage struct {
	Username string
	Message  string
}

func (p *ChatMessage) Type() PacketType { return PacketType_ChatMessage }

func (p *ChatMessage) Pack() []byte {
	return AppendString(AppendString(nil, p.Username), p.Message)
}

func (p *ChatMessage) Unpack(payload []byte) error {
	r := NewReader("ChatMessage", payload)
	var err error
	if p.Username, err = r.ReadString(); err != nil {
		return err
	}
	p.Message, err = r.ReadString()
	return err
}

//
// Entity sync

type PedSync struct {
	ID       int32
	Health   int32
	Position Vector3
	Rotation Vector3
	Velocity Vector3
}

func (p *PedSync) Type() PacketType { return PacketType_PedSync }

func (p *PedSync) Pack() []byte {
	out := AppendInt32(nil, p.ID)
	out = AppendInt32(out, p.Health)
	out = AppendVector3(out, p.Position)
	out = AppendVector3(out, p.Rotation)
	return AppendVector3(out, p.Velocity)
}

func (p *PedSync) Unpack(payload []byte) error {
	r := NewReader("PedSync", payload)
	var err error
	if p.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.Health, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.Position, err = r.ReadVector3(); err != nil {
		return err
	}
	if p.Rotation, err = r.ReadVector3(); err != nil {
		return err
	}
	p.Velocity, err = r.ReadVector3()
	return err
}

type VehicleSync struct {
	ID         int32
	Position   Vector3
	Quaternion Quaternion
	Velocity   Vector3
}

func (p *VehicleSync) Type() PacketType { return PacketType_VehicleSync }

func (p *VehicleSync) Pack() []byte {
	out := AppendInt32(nil, p.ID)
	out = AppendVector3(out, p.Position)
	out = AppendQuaternion(out, p.Quaternion)
	return AppendVector3(out, p.Velocity)
}

func (p *VehicleSync) Unpack(payload []byte) error {
	r := NewReader("VehicleSync", payload)
	var err error
	if p.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.Position, err = r.ReadVector3(); err != nil {
		return err
	}
	if p.Quaternion, err = r.ReadQuaternion(); err != nil {
		return err
	}
	p.Velocity, err = r.ReadVector3()
	return err
}

type PedStateSync struct {
	ID    int32
	Flags int32
}

func (p *PedStateSync) Type() PacketType { return PacketType_PedStateSync }

func (p *PedStateSync) Pack() []byte {
	return AppendInt32(AppendInt32(nil, p.ID), p.Flags)
}

func (p *PedStateSync) Unpack(payload []byte) error {
	r := NewReader("PedStateSync", payload)
	var err error
	if p.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	p.Flags, err = r.ReadInt32()
	return err
}

type VehicleStateSync struct {
	ID int32
	// Passengers maps seat index to ped id.
	Passengers map[int32]int32
}

func (p *VehicleStateSync) Type() PacketType { return PacketType_VehicleStateSync }

func (p *VehicleStateSync) Pack() []byte {
	out := AppendInt32(nil, p.ID)
	out = AppendInt32(out, int32(len(p.Passengers)))
	for seat, ped := range p.Passengers {
		out = AppendInt32(out, seat)
		out = AppendInt32(out, ped)
	}
	return out
}

func (p *VehicleStateSync) Unpack(payload []byte) error {
	r := NewReader("VehicleStateSync", payload)
	var err error
	if p.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return err
	}
	// each entry is 8 bytes; reject counts the payload cannot hold before allocating
	if count < 0 || int(count) > len(r.Remaining())/8 {
		return &errors.InvalidLength{
			MessageName: "VehicleStateSync::Passengers",
			Length:      count,
		}
	}
	p.Passengers = make(map[int32]int32, count)
	for i := int32(0); i < count; i++ {
		seat, err := r.ReadInt32()
		if err != nil {
			return err
		}
		ped, err := r.ReadInt32()
		if err != nil {
			return err
		}
		p.Passengers[seat] = ped
	}
	return nil
}

type ProjectileSync struct {
	ID        int32
	ShooterID int32
	Position  Vector3
	Velocity  Vector3
}

func (p *ProjectileSync) Type() PacketType { return PacketType_ProjectileSync }

func (p *ProjectileSync) Pack() []byte {
	out := AppendInt32(nil, p.ID)
	out = AppendInt32(out, p.ShooterID)
	out = AppendVector3(out, p.Position)
	return AppendVector3(out, p.Velocity)
}

func (p *ProjectileSync) Unpack(payload []byte) error {
	r := NewReader("ProjectileSync", payload)
	var err error
	if p.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.ShooterID, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.Position, err = r.ReadVector3(); err != nil {
		return err
	}
	p.Velocity, err = r.ReadVector3()
	return err
}

//
// File transfer

type FileTransferRequest struct {
	ID         int32
	Name       string
	FileLength int64
}

func (p *FileTransferRequest) Type() PacketType { return PacketType_FileTransferRequest }

func (p *FileTransferRequest) Pack() []byte {
	out := AppendInt32(nil, p.ID)
	out = AppendString(out, p.Name)
	return AppendInt64(out, p.FileLength)
}

func (p *FileTransferRequest) Unpack(payload []byte) error {
	r := NewReader("FileTransferRequest", payload)
	var err error
	if p.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.Name, err = r.ReadString(); err != nil {
		return err
	}
	p.FileLength, err = r.ReadInt64()
	return err
}

type FileTransferChunk struct {
	ID        int32
	FileChunk []byte
}

func (p *FileTransferChunk) Type() PacketType { return PacketType_FileTransferChunk }

func (p *FileTransferChunk) Pack() []byte {
	return AppendBytes(AppendInt32(nil, p.ID), p.FileChunk)
}

func (p *FileTransferChunk) Unpack(payload []byte) error {
	r := NewReader("FileTransferChunk", payload)
	var err error
	if p.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	p.FileChunk, err = r.ReadBytes()
	return err
}

type FileTransferComplete struct {
	ID int32
}

func (p *FileTransferComplete) Type() PacketType { return PacketType_FileTransferComplete }

func (p *FileTransferComplete) Pack() []byte {
	return AppendInt32(nil, p.ID)
}

func (p *FileTransferComplete) Unpack(payload []byte) error {
	var err error
	p.ID, err = NewReader("FileTransferComplete", payload).ReadInt32()
	return err
}

type FileTransferResponse struct {
	ID       int32
	Response FileResponse
}

func (p *FileTransferResponse) Type() PacketType { return PacketType_FileTransferResponse }

func (p *FileTransferResponse) Pack() []byte {
	return append(AppendInt32(nil, p.ID), byte(p.Response))
}

func (p *FileTransferResponse) Unpack(payload []byte) error {
	r := NewReader("FileTransferResponse", payload)
	var err error
	if p.ID, err = r.ReadInt32(); err != nil {
		return err
	}
	b, err := r.ReadByte()
	p.Response = FileResponse(b)
	return err
}
