package state

import (
	"github.com/snksoft/crc"
)

// CRC-32/MPEG-2: MSB first, no reflection, initialised to all ones.
var crc32 = crc.NewHash(&crc.Parameters{
	Width:      32,
	Polynomial: 0x04C11DB7,
	ReflectIn:  false,
	ReflectOut: false,
	Init:       0xFFFFFFFF,
	FinalXor:   0,
})

func checksum(data []byte) uint32 {
	return uint32(crc32.CalculateCRC(data))
}
