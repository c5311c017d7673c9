// Package nsm implements the session-management protocol endpoints:
// the client side that registers with a session daemon, and the
// controller side that drives daemons and their clients.
package nsm

// Errno is a protocol reply code. Zero is success; everything else is
// a specific failure the daemon or client reports in an /error
// message.
type Errno int32

const (
	OK                  Errno = 0
	ErrGeneral          Errno = -1
	ErrIncompatibleAPI  Errno = -2
	ErrBlacklisted      Errno = -3
	ErrLaunchFailed     Errno = -4
	ErrNoSuchFile       Errno = -5
	ErrNoSessionOpen    Errno = -6
	ErrUnsavedChanges   Errno = -7
	ErrNotNow           Errno = -8
	ErrBadProject       Errno = -9
	ErrCreateFailed     Errno = -10
	ErrSessionLocked    Errno = -11
	ErrOperationPending Errno = -12
	ErrSaveFailed       Errno = -99
)

func (e Errno) String() string {
	switch e {
	case OK:
		return "ok"
	case ErrGeneral:
		return "general error"
	case ErrIncompatibleAPI:
		return "incompatible API version"
	case ErrBlacklisted:
		return "client blacklisted"
	case ErrLaunchFailed:
		return "launch failed"
	case ErrNoSuchFile:
		return "no such file"
	case ErrNoSessionOpen:
		return "no session open"
	case ErrUnsavedChanges:
		return "unsaved changes"
	case ErrNotNow:
		return "not now"
	case ErrBadProject:
		return "bad project"
	case ErrCreateFailed:
		return "create failed"
	case ErrSessionLocked:
		return "session locked"
	case ErrOperationPending:
		return "operation pending"
	case ErrSaveFailed:
		return "save failed"
	default:
		return "unknown error"
	}
}

// Protocol version announced to daemons.
const (
	APIVersionMajor = 1
	APIVersionMinor = 1
)

// Capability strings, colon-delimited in announce messages.
const (
	CapSwitch        = ":switch:"
	CapDirty         = ":dirty:"
	CapProgress      = ":progress:"
	CapMessage       = ":message:"
	CapOptionalGUI   = ":optional-gui:"
	CapServerControl = ":server-control:"
	CapBroadcast     = ":broadcast:"
)
