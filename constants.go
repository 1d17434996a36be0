package max6675

import "time"

// Device is a logical thermocouple channel.
type Device uint8

const (
	Top Device = iota
	Bottom
)

// MaxDevices is the number of logical channels. A board with a single chip
// still answers for both; Bottom reads the Top chip.
const MaxDevices = 2

// Raw word layout
const (
	openFlag  uint16 = 0x0004
	dataShift        = 3
)

// Supported span of the decoded value, in quarter degrees.
const (
	minDecoded int16 = 10
	maxDecoded int16 = 1200
)

// Values returned by Read in place of a temperature.
const (
	LineFaultCode  int16 = -1 // 0xFFFF
	RangeFaultCode int16 = 0x0FFF
	BusFaultCode   int16 = 0x7FFF
)

// 25C in quarter degrees
const windowSeed int16 = 100

const maxWindowBits = 8

const (
	selectDelay     = 2 * time.Millisecond
	latchDelay      = 2 * time.Millisecond
	conversionDelay = 220 * time.Millisecond
)

// Byte driven onto MOSI while clocking data out of the chip.
const dontCare byte = 0xFF
