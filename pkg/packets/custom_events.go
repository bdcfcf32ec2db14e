package packets

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	mut_eventNames sync.Mutex
	eventNames     = make(map[int32]string)
)

// HashEvent maps an event name onto the int32 carried on the wire: the first
// four bytes of its MD5 digest. Two different names hashing to the same value
// is an error.
func HashEvent(name string) (int32, error) {
	sum := md5.Sum([]byte(name))
	hash := int32(binary.LittleEndian.Uint32(sum[0:4]))

	mut_eventNames.Lock()
	defer mut_eventNames.Unlock()

	if existing, has := eventNames[hash]; has {
		if existing != name {
			return 0, fmt.Errorf("event name %q collides with %q (hash %d)", name, existing, hash)
		}
		return hash, nil
	}
	eventNames[hash] = name
	return hash, nil
}

func MustHashEvent(name string) int32 {
	hash, err := HashEvent(name)
	if err != nil {
		panic(err)
	}
	return hash
}

// EventName returns the name registered for hash, if any.
func EventName(hash int32) (string, bool) {
	mut_eventNames.Lock()
	defer mut_eventNames.Unlock()
	name, has := eventNames[hash]
	return name, has
}

var (
	CustomEvent_ServerPropSync   = MustHashEvent("coop.ServerPropSync")
	CustomEvent_DeleteServerProp = MustHashEvent("coop.DeleteServerProp")
	CustomEvent_ServerBlipSync   = MustHashEvent("coop.ServerBlipSync")
	CustomEvent_DeleteServerBlip = MustHashEvent("coop.DeleteServerBlip")
	CustomEvent_AllResourcesSent = MustHashEvent("coop.AllResourcesSent")
)

// CustomEvent carries a hashed event name and a msgpack encoded argument list.
type CustomEvent struct {
	Hash int32
	Args []byte
}

func NewCustomEvent(hash int32, args ...any) (*CustomEvent, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := msgpack.Marshal(args)
	if err != nil {
		return nil, err
	}
	return &CustomEvent{Hash: hash, Args: encoded}, nil
}

// DecodeArgs unpacks the argument list. Numbers come back in their msgpack
// wire width (int8, uint16, float32, ...).
func (p *CustomEvent) DecodeArgs() ([]any, error) {
	if len(p.Args) == 0 {
		return nil, nil
	}
	var args []any
	if err := msgpack.Unmarshal(p.Args, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *CustomEvent) Type() PacketType { return PacketType_CustomEvent }

func (p *CustomEvent) Pack() []byte {
	return AppendBytes(AppendInt32(nil, p.Hash), p.Args)
}

func (p *CustomEvent) Unpack(payload []byte) error {
	r := NewReader("CustomEvent", payload)
	var err error
	if p.Hash, err = r.ReadInt32(); err != nil {
		return err
	}
	p.Args, err = r.ReadBytes()
	return err
}
