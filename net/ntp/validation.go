package ntp

import (
	"errors"
)

var (
	ErrUnexpectedRequest  = errors.New("unexpected request structure")
	ErrUnexpectedResponse = errors.New("unexpected response structure")
	ErrUnsynchronized     = errors.New("server not synchronized")
)

// ValidateResponseMetadata checks the header of a server reply. A leap alarm
// or stratum 0 means the server has no usable time and yields
// ErrUnsynchronized; anything else malformed yields ErrUnexpectedResponse.
func ValidateResponseMetadata(resp *Packet) error {
	// Based on Ntimed by Poul-Henning Kamp, https://github.com/bsdphk/Ntimed

	if resp.LeapIndicator() == LeapIndicatorUnknown {
		return ErrUnsynchronized
	}
	if resp.Version() != 3 && resp.Version() != 4 {
		return ErrUnexpectedResponse
	}
	if resp.Mode() != ModeServer {
		return ErrUnexpectedResponse
	}
	if resp.Stratum == 0 {
		return ErrUnsynchronized
	}
	if resp.Stratum > 15 {
		return ErrUnexpectedResponse
	}
	return nil
}

// ValidateResponseTimestamps rejects replies without a transmit timestamp and
// replies whose receive timestamp follows the transmit timestamp.
func ValidateResponseTimestamps(resp *Packet) error {
	if resp.TransmitTime.IsZero() {
		return ErrUnexpectedResponse
	}
	if resp.ReceiveTime.After(resp.TransmitTime) {
		return ErrUnexpectedResponse
	}
	return nil
}

func ValidateRequest(req *Packet) error {
	li := req.LeapIndicator()
	if li != LeapIndicatorNoWarning && li != LeapIndicatorUnknown {
		return ErrUnexpectedRequest
	}
	vn := req.Version()
	if vn < VersionMin || VersionMax < vn {
		return ErrUnexpectedRequest
	}
	mode := req.Mode()
	if vn == 1 && mode != ModeReserved0 || vn != 1 && mode != ModeClient {
		return ErrUnexpectedRequest
	}
	return nil
}
