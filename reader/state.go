package reader

// ConnectionState tracks where a venue connection is in its lifecycle.
type ConnectionState int32

const (
	StateClosed ConnectionState = iota
	StateConnecting
	StateOpen
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDegraded:
		return "degraded"
	default:
		return "closed"
	}
}
