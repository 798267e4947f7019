// Package crc implements CRC-16/CCITT-FALSE used by MobyCom frames:
// poly 0x1021, init 0xffff, MSB first, no reflection, no final xor.
package crc

const (
	CRC16_POLY_CCITT uint16 = 0x1021
	CRC16_INIT_FALSE uint16 = 0xffff
)

var crc16Table = makeTable16(CRC16_POLY_CCITT)

// CRC16_ccitt_next folds one byte into running crc, bit by bit.
func CRC16_ccitt_next(crc uint16, data byte) uint16 {
	crc ^= uint16(data) << 8
	for i := 0; i < 8; i++ {
		if (crc & 0x8000) != 0 {
			crc = (crc << 1) ^ CRC16_POLY_CCITT
		} else {
			crc <<= 1
		}
	}
	return crc
}

// CRC16_ccitt computes checksum of b[offset:offset+length].
// Caller guarantees valid range.
func CRC16_ccitt(b []byte, offset, length int) uint16 {
	crc := CRC16_INIT_FALSE
	for _, x := range b[offset : offset+length] {
		crc = CRC16_ccitt_next(crc, x)
	}
	return crc
}

// CRC16_ccitt_table is lookup table variant of CRC16_ccitt over whole slice.
func CRC16_ccitt_table(b []byte) uint16 {
	crc := CRC16_INIT_FALSE
	for _, x := range b {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^x]
	}
	return crc
}

func makeTable16(poly uint16) (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if (crc & 0x8000) != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return
}
