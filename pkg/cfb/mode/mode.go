package mode

// Mode represents enumeration of container open modes.
type Mode uint32

const (
	// ReadWrite is a Mode value for container that is available
	// for read and write operations. Default mode.
	ReadWrite Mode = iota

	// ReadOnly is a Mode value for container that does not
	// accept write operations but is readable. The underlying file
	// is locked in shared mode so several readers may coexist.
	ReadOnly
)

func (m Mode) String() string {
	switch m {
	default:
		return "UNDEFINED"
	case ReadWrite:
		return "READ_WRITE"
	case ReadOnly:
		return "READ_ONLY"
	}
}

// NoWrite returns true if the mode prohibits modifications.
func (m Mode) NoWrite() bool {
	return m != ReadWrite
}
