package main

// Exit codes so supervisors can distinguish failure classes

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeConfigError indicates configuration loading or validation failed
	ExitCodeConfigError = 1

	// ExitCodeCaptureError indicates live capture could not be initialized
	ExitCodeCaptureError = 2

	// ExitCodeBindError indicates the HTTP port could not be bound
	ExitCodeBindError = 3
)

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodeCaptureError:
		return "Capture initialization failed - live mode needs a usable interface and elevated privileges"
	case ExitCodeBindError:
		return "Port bind failed - address already in use or permission denied"
	default:
		return "Unknown error"
	}
}
