package value

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

// Type tags prepended to each hashed value so that, for example, the
// number 1 and the string "1" never hash alike.
const (
	tagNull   = 0
	tagBool   = 1
	tagNumber = 2
	tagString = 3
	tagArray  = 4
	tagObject = 5
)

// Hash64 computes a fast 64-bit hash of a value, used to key the join
// index. Collisions are tolerated: join probing re-verifies equality
// after every hash hit.
func Hash64(v Value) uint64 {
	d := xxhash.New()
	hashInto64(v, d)
	return d.Sum64()
}

func hashInto64(v Value, d *xxhash.Digest) {
	var tag [1]byte
	var num [8]byte
	switch v.kind {
	case KindNull:
		tag[0] = tagNull
		d.Write(tag[:])
	case KindBool:
		tag[0] = tagBool
		d.Write(tag[:])
		if v.b {
			d.Write([]byte{1})
		} else {
			d.Write([]byte{0})
		}
	case KindNumber:
		tag[0] = tagNumber
		d.Write(tag[:])
		binary.BigEndian.PutUint64(num[:], math.Float64bits(v.num))
		d.Write(num[:])
	case KindString:
		tag[0] = tagString
		d.Write(tag[:])
		d.WriteString(v.str)
	case KindArray:
		tag[0] = tagArray
		d.Write(tag[:])
		for _, item := range v.arr {
			hashInto64(item, d)
		}
	case KindObject:
		tag[0] = tagObject
		d.Write(tag[:])
		for _, k := range sortedKeys(v.obj) {
			d.WriteString(k)
			hashInto64(v.obj[k], d)
		}
	}
}

// ContentHash computes the deterministic BLAKE3 content hash of a value,
// hex encoded. Used to fingerprint ingested records.
func ContentHash(v Value) string {
	h := blake3.New(32, nil)
	hashIntoContent(v, h)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

func hashIntoContent(v Value, h *blake3.Hasher) {
	var num [8]byte
	switch v.kind {
	case KindNull:
		h.Write([]byte{tagNull})
	case KindBool:
		h.Write([]byte{tagBool})
		if v.b {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case KindNumber:
		h.Write([]byte{tagNumber})
		binary.BigEndian.PutUint64(num[:], math.Float64bits(v.num))
		h.Write(num[:])
	case KindString:
		h.Write([]byte{tagString})
		h.Write([]byte(v.str))
	case KindArray:
		h.Write([]byte{tagArray})
		for _, item := range v.arr {
			hashIntoContent(item, h)
		}
	case KindObject:
		h.Write([]byte{tagObject})
		for _, k := range sortedKeys(v.obj) {
			h.Write([]byte(k))
			hashIntoContent(v.obj[k], h)
		}
	}
}
