package transport

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"github.com/sessamekesh/coop-relay/pkg/transport/RelayMessage"
)

// VerdictFrame builds the ConnectionVerdict frame sent when a connection is
// approved, denied or closed by the server.
func VerdictFrame(accepted bool, reason string) []byte {
	b := flatbuffers.NewBuilder(64)
	var pReason flatbuffers.UOffsetT
	if reason != "" {
		pReason = b.CreateString(reason)
	}
	RelayMessage.ConnectVerdictStart(b)
	RelayMessage.ConnectVerdictAddAccepted(b, accepted)
	if reason != "" {
		RelayMessage.ConnectVerdictAddErrorReason(b, pReason)
	}
	msg := RelayMessage.ConnectVerdictEnd(b)
	b.Finish(msg)

	return packets.RawFrame(packets.PacketType_ConnectionVerdict, b.FinishedBytes())
}

// ParseVerdictFrame is the peer side of VerdictFrame.
func ParseVerdictFrame(frame []byte) (accepted bool, reason string, err error) {
	packetType, payload, err := packets.ParseFrame(frame)
	if err != nil {
		return false, "", err
	}
	if packetType != packets.PacketType_ConnectionVerdict {
		return false, "", fmt.Errorf("expected ConnectionVerdict frame, got %s", packetType)
	}

	defer func() {
		if r := recover(); r != nil {
			accepted = false
			reason = ""
			err = fmt.Errorf("deformed verdict: %v", r)
		}
	}()

	verdict := RelayMessage.GetRootAsConnectVerdict(payload, 0)
	return verdict.Accepted(), string(verdict.ErrorReason()), nil
}
