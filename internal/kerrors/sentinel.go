package kerrors

// Scheduling and PCB errors.
var (
	// ErrNoSuchPCB indicates no PCB matches the given owner or PID.
	ErrNoSuchPCB = New(ErrNotFound, "", "no such PCB")

	// ErrPCBNotBlocked indicates a reply arrived for a PCB that is not
	// currently BLOCKED.
	ErrPCBNotBlocked = New(ErrInvalidState, "", "PCB is not BLOCKED")

	// ErrUnknownIRQLine indicates a line on the controller channel was
	// not IRQ0/IRQ1/IRQ2.
	ErrUnknownIRQLine = New(ErrInvalidConfig, "", "unrecognised IRQ line")

	// ErrUnknownAppLine indicates a line on the app channel did not match
	// any syscall grammar.
	ErrUnknownAppLine = New(ErrInvalidConfig, "", "unrecognised app line")
)

// SFSS errors.
var (
	// ErrFileNotFound indicates the target file does not exist.
	ErrFileNotFound = New(ErrNotFound, "", "file not found")

	// ErrDirNotFound indicates the target directory does not exist.
	ErrDirNotFound = New(ErrNotFound, "", "directory not found")

	// ErrOffsetBeyondSize indicates a read was attempted at or past EOF.
	ErrOffsetBeyondSize = New(ErrOffsetOOB, "", "offset >= size")

	// ErrPathNotOwned indicates the owner's path prefix check failed.
	ErrPathNotOwned = New(ErrPermission, "", "path not owned by caller")
)
