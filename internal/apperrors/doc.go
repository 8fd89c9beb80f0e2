// Package apperrors defines the error kinds of simple-backup and the process
// exit code each kind maps to.
//
// Every failure that should end the process with a specific exit code is
// wrapped in an [*Error] carrying a [Kind]:
//
//	return apperrors.New(apperrors.KindDestinationUnavailable, err)
//
// The command layer turns any error into an exit code with [ExitCode]:
//
//   - 0: success
//   - 1: no valid inputs
//   - 2: output directory missing
//   - 3: permission denied on output directory
//   - 4: rsync returned a non-zero exit code
//   - 5: SSH connection failure
//   - 6: bad configuration
//   - 7: any other failure
//   - 130: interrupted by a signal
package apperrors
