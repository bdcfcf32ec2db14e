package packets

import "fmt"

type PacketType uint8

const (
	PacketType_Handshake         PacketType = 0
	PacketType_PlayerConnect     PacketType = 1
	PacketType_PlayerDisconnect  PacketType = 2
	PacketType_PlayerInfoUpdate  PacketType = 3
	PacketType_PublicKeyRequest  PacketType = 4
	PacketType_PublicKeyResponse PacketType = 5
	PacketType_Request           PacketType = 6
	PacketType_Response          PacketType = 7
	// Server -> peer only, flatbuffers ConnectVerdict payload
	PacketType_ConnectionVerdict PacketType = 8

	PacketType_ChatMessage          PacketType = 10
	PacketType_FileTransferChunk    PacketType = 11
	PacketType_FileTransferRequest  PacketType = 12
	PacketType_FileTransferResponse PacketType = 13
	PacketType_FileTransferComplete PacketType = 14
	PacketType_CustomEvent          PacketType = 16

	PacketType_PedSync          PacketType = 20
	PacketType_VehicleSync      PacketType = 21
	PacketType_PedStateSync     PacketType = 22
	PacketType_VehicleStateSync PacketType = 23
	PacketType_ProjectileSync   PacketType = 24

	//
	// Sync events: opaque, relayed verbatim to every other peer
	PacketType_BulletShot        PacketType = 30
	PacketType_EnteringVehicle   PacketType = 31
	PacketType_LeaveVehicle      PacketType = 32
	PacketType_EnteredVehicle    PacketType = 33
	PacketType_OwnerChanged      PacketType = 35
	PacketType_VehicleBulletShot PacketType = 36
	PacketType_PedKilled         PacketType = 37
	PacketType_NozzleTransform   PacketType = 38

	syncEventFirst PacketType = 30
	syncEventLast  PacketType = 40
)

// IsSyncEvent reports whether frames of this type are plugin-defined
// real-time events the server forwards without interpreting.
func (t PacketType) IsSyncEvent() bool {
	return t >= syncEventFirst && t <= syncEventLast
}

var packetTypeNames = map[PacketType]string{
	PacketType_Handshake:            "Handshake",
	PacketType_PlayerConnect:        "PlayerConnect",
	PacketType_PlayerDisconnect:     "PlayerDisconnect",
	PacketType_PlayerInfoUpdate:     "PlayerInfoUpdate",
	PacketType_PublicKeyRequest:     "PublicKeyRequest",
	PacketType_PublicKeyResponse:    "PublicKeyResponse",
	PacketType_Request:              "Request",
	PacketType_Response:             "Response",
	PacketType_ConnectionVerdict:    "ConnectionVerdict",
	PacketType_ChatMessage:          "ChatMessage",
	PacketType_FileTransferChunk:    "FileTransferChunk",
	PacketType_FileTransferRequest:  "FileTransferRequest",
	PacketType_FileTransferResponse: "FileTransferResponse",
	PacketType_FileTransferComplete: "FileTransferComplete",
	PacketType_CustomEvent:          "CustomEvent",
	PacketType_PedSync:              "PedSync",
	PacketType_VehicleSync:          "VehicleSync",
	PacketType_PedStateSync:         "PedStateSync",
	PacketType_VehicleStateSync:     "VehicleStateSync",
	PacketType_ProjectileSync:       "ProjectileSync",
	PacketType_BulletShot:           "BulletShot",
	PacketType_EnteringVehicle:      "EnteringVehicle",
	PacketType_LeaveVehicle:         "LeaveVehicle",
	PacketType_EnteredVehicle:       "EnteredVehicle",
	PacketType_OwnerChanged:         "OwnerChanged",
	PacketType_VehicleBulletShot:    "VehicleBulletShot",
	PacketType_PedKilled:            "PedKilled",
	PacketType_NozzleTransform:      "NozzleTransform",
}

func (t PacketType) String() string {
	if name, has := packetTypeNames[t]; has {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// Channel tags a logical stream. Backends that support it map the tag onto
// a transport channel so streams do not block each other.
type Channel uint8

const (
	Channel_Default         Channel = 0
	Channel_Chat            Channel = 1
	Channel_PedSync         Channel = 2
	Channel_SyncEvents      Channel = 3
	Channel_RequestResponse Channel = 4
	Channel_File            Channel = 5

	ChannelCount = 8
)

type DeliveryMethod uint8

const (
	DeliveryMethod_ReliableOrdered DeliveryMethod = iota
	DeliveryMethod_ReliableSequenced
	DeliveryMethod_UnreliableSequenced
)

func (m DeliveryMethod) IsReliable() bool {
	return m != DeliveryMethod_UnreliableSequenced
}

type FileResponse uint8

const (
	FileResponse_NeedToDownload FileResponse = iota
	FileResponse_AlreadyExists
	FileResponse_Completed
	FileResponse_Loaded
)
