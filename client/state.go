package client

// RefreshState is the outcome of the refresh protocol.
type RefreshState int

const (
	NoRefreshToken RefreshState = iota
	RefreshTokenExpired
	RefreshInFlight
	RefreshSucceeded
	RefreshFailed
)

func (s RefreshState) String() string {
	switch s {
	case NoRefreshToken:
		return "NO_REFRESH_TOKEN"
	case RefreshTokenExpired:
		return "REFRESH_TOKEN_EXPIRED"
	case RefreshInFlight:
		return "REFRESH_IN_FLIGHT"
	case RefreshSucceeded:
		return "REFRESH_SUCCEEDED"
	case RefreshFailed:
		return "REFRESH_FAILED"
	}
	return "UNKNOWN"
}

// Terminal returns true for the states that end the session.
func (s RefreshState) Terminal() bool {
	return s == NoRefreshToken || s == RefreshTokenExpired || s == RefreshFailed
}
