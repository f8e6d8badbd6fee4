package rtc

import "errors"

// Common errors returned by the agent.
var (
	ErrClosed        = errors.New("rtc: agent closed")
	ErrNotOffer      = errors.New("rtc: session description is not an offer")
	ErrGatherTimeout = errors.New("rtc: ICE gathering timed out")
	ErrPeerNotFound  = errors.New("rtc: peer not found")
)
