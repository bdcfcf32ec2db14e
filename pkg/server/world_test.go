package server

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sessamekesh/coop-relay/pkg/entities"
	"github.com/sessamekesh/coop-relay/pkg/packets"
)

func decodeCustomEvent(t *testing.T, data []byte) (int32, []any) {
	t.Helper()
	var ev packets.CustomEvent
	unpackFrame(t, data, &ev)
	args, err := ev.DecodeArgs()
	if err != nil {
		t.Fatalf("decode args: %v", err)
	}
	return ev.Hash, args
}

func TestPropsAndBlipsAreMirrored(t *testing.T) {
	h := newHarness(t, testSettings(), nil)

	prop, err := h.srv.CreateProp(1234, packets.Vector3{X: 1, Y: 2, Z: 3}, packets.Vector3{Z: 90})
	if err != nil {
		t.Fatalf("create prop: %v", err)
	}

	alice, frames := h.connect("Alice", 100)
	hash, args := decodeCustomEvent(t, frames[len(frames)-1].Data)
	if hash != packets.CustomEvent_ServerPropSync || len(args) != 8 {
		t.Fatalf("expected prop sync on connect, got hash %d with %d args", hash, len(args))
	}
	if toInt64(t, args[0]) != int64(prop.ID) || toInt64(t, args[1]) != 1234 {
		t.Fatalf("unexpected prop args %v", args)
	}
	if z, ok := args[4].(float32); !ok || z != 3 {
		t.Fatalf("unexpected prop z %#v", args[4])
	}
	hash, _ = decodeCustomEvent(t, alice.expect(packets.PacketType_CustomEvent).Data)
	if hash != packets.CustomEvent_AllResourcesSent {
		t.Fatalf("expected resources event after the world push, got %d", hash)
	}

	blip, err := h.srv.CreateBlip(entities.Blip{Sprite: 1, Color: 2, Scale: 0.5, Name: "Garage"})
	if err != nil {
		t.Fatalf("create blip: %v", err)
	}
	hash, args = decodeCustomEvent(t, alice.expect(packets.PacketType_CustomEvent).Data)
	if hash != packets.CustomEvent_ServerBlipSync || toInt64(t, args[0]) != int64(blip.ID) || args[4] != "Garage" {
		t.Fatalf("unexpected blip event %d %v", hash, args)
	}

	if moved, err := h.srv.MoveProp(prop.ID, packets.Vector3{X: 9}, packets.Vector3{}); !moved || err != nil {
		t.Fatalf("expected prop to move, got %v %v", moved, err)
	}
	hash, args = decodeCustomEvent(t, alice.expect(packets.PacketType_CustomEvent).Data)
	if hash != packets.CustomEvent_ServerPropSync || args[2] != float32(9) {
		t.Fatalf("unexpected move event %d %v", hash, args)
	}

	if !h.srv.DeleteProp(prop.ID) || h.srv.DeleteProp(prop.ID) {
		t.Fatalf("expected exactly one successful prop deletion")
	}
	hash, args = decodeCustomEvent(t, alice.expect(packets.PacketType_CustomEvent).Data)
	if hash != packets.CustomEvent_DeleteServerProp || toInt64(t, args[0]) != int64(prop.ID) {
		t.Fatalf("unexpected delete event %d %v", hash, args)
	}

	if !h.srv.DeleteBlip(blip.ID) {
		t.Fatalf("expected blip deletion")
	}
	hash, _ = decodeCustomEvent(t, alice.expect(packets.PacketType_CustomEvent).Data)
	if hash != packets.CustomEvent_DeleteServerBlip {
		t.Fatalf("unexpected delete blip event %d", hash)
	}
}

func TestResourcesArePushedAfterConnect(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte{0xAB}, 5000)
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), content, 0o644); err != nil {
		t.Fatalf("write a.bin: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.bin"), []byte("cached"), 0o644); err != nil {
		t.Fatalf("write b.bin: %v", err)
	}

	settings := testSettings()
	settings.ResourcesDirectory = dir
	h := newHarness(t, settings, nil)

	p := h.dial("Alice", 100)
	if accepted, reason := p.handshake("V0_5_1"); !accepted {
		t.Fatalf("denied: %s", reason)
	}

	offered := []string{}
	received := []byte{}
	completed := 0
	for {
		frame := p.expectOneOf(packets.PacketType_Request, packets.PacketType_FileTransferChunk, packets.PacketType_CustomEvent)
		switch packets.PacketType(frame.Data[0]) {
		case packets.PacketType_CustomEvent:
			if hash, _ := decodeCustomEvent(t, frame.Data); hash != packets.CustomEvent_AllResourcesSent {
				t.Fatalf("unexpected custom event %d", hash)
			}
			if len(offered) != 2 || offered[0] != "a.bin" || offered[1] != "b.bin" {
				t.Fatalf("unexpected offers %q", offered)
			}
			if !bytes.Equal(received, content) {
				t.Fatalf("received %d bytes, expected %d", len(received), len(content))
			}
			if completed != 1 {
				t.Fatalf("expected one completion, got %d", completed)
			}
			return

		case packets.PacketType_FileTransferChunk:
			if frame.Channel != packets.Channel_File {
				t.Fatalf("chunk on channel %d", frame.Channel)
			}
			var chunk packets.FileTransferChunk
			unpackFrame(t, frame.Data, &chunk)
			received = append(received, chunk.FileChunk...)

		case packets.PacketType_Request:
			env, err := packets.ParseEnvelope(frame.Data)
			if err != nil {
				t.Fatalf("parse request: %v", err)
			}
			switch env.InnerType {
			case packets.PacketType_FileTransferRequest:
				var req packets.FileTransferRequest
				if err := req.Unpack(env.Payload); err != nil {
					t.Fatalf("unpack offer: %v", err)
				}
				offered = append(offered, req.Name)
				response := packets.FileResponse_NeedToDownload
				if req.Name == "b.bin" {
					response = packets.FileResponse_AlreadyExists
				}
				p.sendRaw(packets.ResponseFrame(env.ID, &packets.FileTransferResponse{ID: req.ID, Response: response}))
			case packets.PacketType_FileTransferComplete:
				var done packets.FileTransferComplete
				if err := done.Unpack(env.Payload); err != nil {
					t.Fatalf("unpack completion: %v", err)
				}
				completed++
				p.sendRaw(packets.ResponseFrame(env.ID, &packets.FileTransferResponse{ID: done.ID, Response: packets.FileResponse_Completed}))
			default:
				t.Fatalf("unexpected request %s", env.InnerType)
			}
		}
	}
}

func TestUnconfirmedResourceDoesNotStopTheRest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bin", "b.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	settings := testSettings()
	settings.ResourcesDirectory = dir
	settings.RequestTimeout = 100 * time.Millisecond
	h := newHarness(t, settings, nil)

	p := h.dial("Alice", 100)
	if accepted, reason := p.handshake("V0_5_1"); !accepted {
		t.Fatalf("denied: %s", reason)
	}

	offered := []string{}
	for {
		frame := p.expectOneOf(packets.PacketType_Request, packets.PacketType_CustomEvent)
		if packets.PacketType(frame.Data[0]) == packets.PacketType_CustomEvent {
			if hash, _ := decodeCustomEvent(t, frame.Data); hash != packets.CustomEvent_AllResourcesSent {
				t.Fatalf("unexpected custom event %d", hash)
			}
			if len(offered) != 2 || offered[0] != "a.bin" || offered[1] != "b.bin" {
				t.Fatalf("unexpected offers %q", offered)
			}
			return
		}

		env, err := packets.ParseEnvelope(frame.Data)
		if err != nil {
			t.Fatalf("parse request: %v", err)
		}
		if env.InnerType != packets.PacketType_FileTransferRequest {
			// Completion notices are left unanswered.
			continue
		}
		var req packets.FileTransferRequest
		if err := req.Unpack(env.Payload); err != nil {
			t.Fatalf("unpack offer: %v", err)
		}
		offered = append(offered, req.Name)
		p.sendRaw(packets.ResponseFrame(env.ID, &packets.FileTransferResponse{ID: req.ID, Response: packets.FileResponse_NeedToDownload}))
	}
}
