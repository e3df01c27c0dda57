package server

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

// stickCount is how many fortune sticks one payment buys.
const stickCount = 3

// stickRange is the inclusive upper bound of a stick number; sticks
// are always in [1, stickRange].
const stickRange = 100

// SticksFromNonce deterministically maps a payment authorization nonce
// to three stick numbers: bytes 0-3, 4-7 and 8-11 of the nonce, read
// as big-endian 32-bit integers, each reduced mod 100 plus 1. The same
// nonce always yields the same sticks, binding the content to the
// payment without server-side state.
//
// A malformed or short nonce (under 12 bytes) falls back to
// time-derived sticks; the second return value reports that fallback
// so callers can log and count it.
func SticksFromNonce(nonce string) ([]int, bool) {
	raw, err := hex.DecodeString(strings.TrimPrefix(nonce, "0x"))
	if err != nil || len(raw) < stickCount*4 {
		return sticksFromTime(time.Now()), true
	}

	sticks := make([]int, stickCount)
	for i := range sticks {
		v := binary.BigEndian.Uint32(raw[i*4 : i*4+4])
		sticks[i] = int(v%stickRange) + 1
	}
	return sticks, false
}

// SticksFromChargeCode deterministically maps a hosted-checkout charge
// code to three stick numbers. The rolling hash is computed in 32-bit
// two's-complement arithmetic (h = h*31 + c) to stay bit-compatible
// with the scheme existing clients already depend on.
func SticksFromChargeCode(code string) []int {
	var h int32
	for _, r := range code {
		h = (h << 5) - h + int32(r)
	}

	return []int{
		int(abs64(int64(h))%stickRange) + 1,
		int(abs64(int64(h>>8))%stickRange) + 1,
		int(abs64(int64(h>>16))%stickRange) + 1,
	}
}

// sticksFromTime is the derivation fallback when no usable payment
// identifier exists: three values spread from the current clock.
func sticksFromTime(now time.Time) []int {
	ns := now.UnixNano()
	sticks := make([]int, stickCount)
	for i := range sticks {
		ns = ns*6364136223846793005 + 1442695040888963407 // LCG step
		sticks[i] = int(abs64(ns>>33)%stickRange) + 1
	}
	return sticks
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
