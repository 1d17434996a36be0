package max6675

import (
	"errors"
	"fmt"
)

// Kind is the outcome of classifying one raw word.
type Kind int

const (
	Valid Kind = iota
	// LineFault means the probe is open or shorted, or the bus returned all
	// zeros or all ones.
	LineFault
	// RangeFault means the decoded value is outside the supported span.
	RangeFault
	// BusFault means the transfer failed or did not complete in time.
	BusFault
)

func (k Kind) String() string {
	switch k {
	case Valid:
		return "valid"
	case LineFault:
		return "line fault"
	case RangeFault:
		return "range fault"
	case BusFault:
		return "bus fault"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrLineFault  = errors.New("thermocouple open or shorted")
	ErrRangeFault = errors.New("thermocouple reading out of range")
	ErrBusTimeout = errors.New("spi transfer timed out")
)

// Reading is a classified raw word.
//
// Value is the decoded temperature in quarter degrees for Valid and
// RangeFault readings, and the code handed to the fault callback otherwise.
type Reading struct {
	Kind  Kind
	Raw   uint16
	Value int16
}

// Sentinel returns what Read reports for r: the decoded value when valid,
// otherwise one of the fault codes.
func (r Reading) Sentinel() int16 {
	switch r.Kind {
	case Valid:
		return r.Value
	case LineFault:
		return LineFaultCode
	case RangeFault:
		return RangeFaultCode
	}
	return BusFaultCode
}

// Classify decodes a raw MAX6675 word.
func Classify(raw uint16) Reading {
	if raw == 0x0000 || raw == 0xFFFF || raw&openFlag != 0 {
		return Reading{Kind: LineFault, Raw: raw, Value: LineFaultCode}
	}

	// Bit 15 is a dummy sign bit and always reads 0, so this fits in 12 bits.
	decoded := int16(raw >> dataShift)
	if decoded < minDecoded || decoded > maxDecoded {
		return Reading{Kind: RangeFault, Raw: raw, Value: decoded}
	}
	return Reading{Kind: Valid, Raw: raw, Value: decoded}
}

// FaultError is returned by Read for any reading that is not Valid.
type FaultError struct {
	Device  Device
	Reading Reading
	// Err is the underlying bus error for BusFault readings.
	Err error
}

func (e *FaultError) Error() string {
	switch e.Reading.Kind {
	case LineFault:
		return fmt.Sprintf("device %d: %v (raw %#04x)", e.Device, ErrLineFault, e.Reading.Raw)
	case RangeFault:
		return fmt.Sprintf("device %d: %v (%d)", e.Device, ErrRangeFault, e.Reading.Value)
	}
	return fmt.Sprintf("device %d: %s: %v", e.Device, e.Reading.Kind, e.Err)
}

func (e *FaultError) Is(target error) bool {
	switch target {
	case ErrLineFault:
		return e.Reading.Kind == LineFault
	case ErrRangeFault:
		return e.Reading.Kind == RangeFault
	}
	return false
}

func (e *FaultError) Unwrap() error {
	return e.Err
}
