// Package codec converts between the carrier's μ-law wire audio and the
// linear PCM the speech adapters work with.
package codec

import "encoding/binary"

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var decodeTable = buildDecodeTable()

func buildDecodeTable() [256]int16 {
	var table [256]int16
	for i := 0; i < 256; i++ {
		u := ^byte(i)
		exp := (u >> 4) & 0x07
		mant := int(u & 0x0F)
		mag := ((mant << 3) + muLawBias) << exp
		mag -= muLawBias
		if u&0x80 != 0 {
			table[i] = int16(-mag)
		} else {
			table[i] = int16(mag)
		}
	}
	// 0x7F is negative zero. -1 encodes back to 0x7F, 0 would encode to 0xFF.
	table[0x7F] = -1
	return table
}

// DecodeSample expands one μ-law byte to a 16-bit linear sample.
func DecodeSample(b byte) int16 {
	return decodeTable[b]
}

// EncodeSample compands one 16-bit linear sample to μ-law.
func EncodeSample(s int16) byte {
	x := int(s)
	sign := 0
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > muLawClip {
		x = muLawClip
	}
	x += muLawBias
	exp := 7
	for mask := 0x4000; x&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (x >> (exp + 3)) & 0x0F
	return ^byte(sign | exp<<4 | mant)
}

// Decode expands μ-law bytes to linear samples, one sample per byte.
func Decode(wire []byte) []int16 {
	out := make([]int16, len(wire))
	for i, b := range wire {
		out[i] = decodeTable[b]
	}
	return out
}

// Encode compands linear samples to μ-law, one byte per sample.
func Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeSample(s)
	}
	return out
}

// DecodeBytes expands μ-law to little-endian linear16 bytes.
func DecodeBytes(wire []byte) []byte {
	return SamplesToBytes(Decode(wire))
}

// EncodeBytes compands little-endian linear16 bytes to μ-law.
// A trailing odd byte is ignored.
func EncodeBytes(pcm []byte) []byte {
	return Encode(BytesToSamples(pcm))
}

// BytesToSamples reads little-endian linear16 samples.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// SamplesToBytes writes little-endian linear16 samples.
func SamplesToBytes(pcm []int16) []byte {
	out := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
