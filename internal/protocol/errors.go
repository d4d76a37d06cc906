package protocol

import "errors"

var (
	// ErrMalformedPacket reports a datagram whose declared size does not match
	// the received byte count, whose type is unknown, or whose payload does not
	// parse. Such datagrams are dropped unprocessed.
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrTruncatedPacket reports a read past the end of the buffer.
	ErrTruncatedPacket = errors.New("truncated packet")
	// ErrStalePacket reports a packet id that is not greater than the last
	// accepted id of the sender.
	ErrStalePacket = errors.New("stale packet")
	// ErrPacketTooLarge reports a packet whose size does not fit the 27-bit size
	// field or the datagram limit.
	ErrPacketTooLarge = errors.New("packet too large")
)

// Stable codes used in logs and index rows.
const (
	CodeMalformed       = "E_MALFORMED"
	CodeTruncated       = "E_TRUNCATED"
	CodeStale           = "E_STALE"
	CodeTooLarge        = "E_TOO_LARGE"
	CodeHistoryOverflow = "E_HISTORY_OVERFLOW"
	CodeDivergence      = "E_DIVERGENCE"
	CodeUnknownSender   = "E_UNKNOWN_SENDER"
	CodeRateLimit       = "E_RATE_LIMIT"
	CodeQueueFull       = "E_QUEUE_FULL"
)

var knownCodes = map[string]struct{}{
	CodeMalformed:       {},
	CodeTruncated:       {},
	CodeStale:           {},
	CodeTooLarge:        {},
	CodeHistoryOverflow: {},
	CodeDivergence:      {},
	CodeUnknownSender:   {},
	CodeRateLimit:       {},
	CodeQueueFull:       {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeOf maps a protocol error onto its stable code. Unknown errors map to "".
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTruncatedPacket):
		return CodeTruncated
	case errors.Is(err, ErrMalformedPacket):
		return CodeMalformed
	case errors.Is(err, ErrStalePacket):
		return CodeStale
	case errors.Is(err, ErrPacketTooLarge):
		return CodeTooLarge
	}
	return ""
}
