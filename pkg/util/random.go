package utils

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomNonZeroInt32 draws cryptographically random non-zero values until
// one is found that taken rejects. taken may be nil.
//
// Collisions are retried rather than avoided, so the expected number of draws
// grows with the birthday bound of the live set. At a few thousand live ids
// out of 2^32 a retry is already vanishingly rare.
func RandomNonZeroInt32(taken func(int32) bool) int32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand only fails when the OS entropy source is gone
			panic(err)
		}

		id := int32(binary.LittleEndian.Uint32(buf[:]))
		if id == 0 {
			continue
		}
		if taken != nil && taken(id) {
			continue
		}
		return id
	}
}
