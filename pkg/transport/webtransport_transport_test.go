package transport

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/sessamekesh/coop-relay/pkg/packets"
)

func TestStreamFramesAreLengthPrefixed(t *testing.T) {
	first := packets.Frame(&packets.PublicKeyRequest{})
	second := bytes.Repeat([]byte{7}, 300)

	stream := appendStreamFrame(nil, first)
	stream = appendStreamFrame(stream, nil)
	stream = appendStreamFrame(stream, second)

	if !bytes.Equal(stream[:4], []byte{byte(len(first)), 0, 0, 0}) {
		t.Fatalf("expected little-endian length prefix, got %v", stream[:4])
	}

	r := bufio.NewReader(bytes.NewReader(stream))
	for i, want := range [][]byte{first, {}, second} {
		got, err := readStreamFrame(r, 1024)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: expected %v, got %v", i, want, got)
		}
	}
	if _, err := readStreamFrame(r, 1024); err != io.EOF {
		t.Fatalf("expected EOF after the last frame, got %v", err)
	}
}

func TestStreamFrameLimits(t *testing.T) {
	oversized := appendStreamFrame(nil, make([]byte, 65))
	if _, err := readStreamFrame(bufio.NewReader(bytes.NewReader(oversized)), 64); err == nil {
		t.Fatalf("expected frame over the limit to be rejected")
	}

	truncated := appendStreamFrame(nil, []byte{1, 2, 3, 4})[:6]
	if _, err := readStreamFrame(bufio.NewReader(bytes.NewReader(truncated)), 64); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected unexpected EOF for a truncated frame, got %v", err)
	}
}

func TestWebtransportReliableFramesWaitForStream(t *testing.T) {
	wc := &wtConnection{outgoing: make(chan []byte, 2), closing: make(chan struct{})}

	if err := wc.WriteFrame([]byte{1, 2}, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := <-wc.outgoing; !bytes.Equal(got, []byte{1, 2}) {
		t.Fatalf("unexpected queued frame %v", got)
	}

	wc.CloseTransport()
	wc.CloseTransport()
	if err := wc.WriteFrame([]byte{3}, packets.DeliveryMethod_UnreliableSequenced, packets.Channel_PedSync); err != ErrConnectionClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
}
