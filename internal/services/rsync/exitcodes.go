package rsync

import "fmt"

// exitCodeDescriptions follows the EXIT VALUES section of rsync(1).
var exitCodeDescriptions = map[int]string{
	1:   "Syntax or usage error",
	2:   "Protocol incompatibility",
	3:   "Errors selecting input/output files, dirs",
	4:   "Requested action not supported",
	5:   "Error starting client-server protocol",
	6:   "Daemon unable to append to log-file",
	10:  "Error in socket I/O",
	11:  "Error in file I/O",
	12:  "Error in rsync protocol data stream",
	13:  "Errors with program diagnostics",
	14:  "Error in IPC code",
	20:  "Received SIGUSR1 or SIGINT",
	21:  "Some error returned by waitpid()",
	22:  "Error allocating core memory buffers",
	23:  "Partial transfer due to error",
	24:  "Partial transfer due to vanished source files",
	25:  "The --max-delete limit stopped deletions",
	30:  "Timeout in data send/receive",
	35:  "Timeout waiting for daemon connection",
	255: "Remote shell (ssh) failed",
}

// RemoteShellExitCode is returned when the ssh connection fails.
const RemoteShellExitCode = 255

// Describe returns a human readable description of an rsync exit code.
func Describe(code int) string {
	if desc, ok := exitCodeDescriptions[code]; ok {
		return fmt.Sprintf("rsync error (return code %d) - %s", code, desc)
	}
	return fmt.Sprintf("rsync error (return code %d) - check rsync(1) for details", code)
}

// IsPartialTransfer reports whether code means some files were not copied
// but the transfer otherwise ran.
func IsPartialTransfer(code int) bool {
	return code == 23 || code == 24
}
