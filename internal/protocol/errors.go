package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Embedded snapshot block present but not decodable; the turn degrades
	// to narrative scraping.
	ErrDecode = "E_DECODE"

	// An extracted entry was out of plausible bounds and was dropped.
	ErrValidation = "E_VALIDATION"

	// Thread/session routing.
	ErrThreadNotFound = "E_THREAD_NOT_FOUND"
	ErrStaleTurn      = "E_STALE_TURN"

	// Control layer.
	ErrBadRequest         = "E_BAD_REQUEST"
	ErrCheckpointNotFound = "E_CHECKPOINT_NOT_FOUND"
	ErrInternal           = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:    {},
	ErrDecode:             {},
	ErrValidation:         {},
	ErrThreadNotFound:     {},
	ErrStaleTurn:          {},
	ErrBadRequest:         {},
	ErrCheckpointNotFound: {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
