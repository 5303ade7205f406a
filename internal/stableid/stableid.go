// Package stableid computes the 32-bit stable identifiers used for
// preference recall across reboots (spec §3) and the pseudonymisation
// applied before a stable id is ever emitted on the control surface (spec
// §6, §8 property 9: "raw device serials never leak").
package stableid

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"sync"
)

// Hash derives a stable id from a device/node's persistent attributes
// (name, bus address, BT MAC, UCM device string, ...). Equal attribute
// tuples always hash to the same id; ground truth is CRAS's use of
// SuperFastHash over the device name and parameter struct
// (cras_floop_iodev.c) — FNV-1a is the stdlib equivalent used here.
func Hash(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum32()
}

// boot-scoped salt: deterministic within a single process lifetime,
// randomised across restarts so the pseudonymised id cannot be correlated
// with a previous boot's id for the same hardware.
var (
	saltOnce sync.Once
	salt     uint32
)

func bootSalt() uint32 {
	saltOnce.Do(func() {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand failure is not expected on any supported
			// platform; fall back to a fixed, non-secret salt rather
			// than panicking the control thread.
			salt = 0x9e3779b9
			return
		}
		salt = binary.LittleEndian.Uint32(buf[:])
	})
	return salt
}

// Pseudonymise maps a raw stable id (computed by Hash, which may be
// derived from a MAC address or serial number) to the value safe to put
// on the control surface. It is deterministic within a boot — repeated
// calls with the same raw id in the same process return the same value —
// and does not expose the raw bytes it was built from.
func Pseudonymise(raw uint32) uint32 {
	h := fnv.New32a()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], raw)
	binary.LittleEndian.PutUint32(buf[4:8], bootSalt())
	_, _ = h.Write(buf[:])
	return h.Sum32()
}

// PackNodeID packs a (device index, node index) pair into the external
// 64-bit node id: (dev_idx << 32) | node_idx (spec §6).
func PackNodeID(devIdx, nodeIdx uint32) uint64 {
	return uint64(devIdx)<<32 | uint64(nodeIdx)
}

// UnpackNodeID is the inverse of PackNodeID.
func UnpackNodeID(id uint64) (devIdx, nodeIdx uint32) {
	return uint32(id >> 32), uint32(id)
}
