package gatt

// ServerRunState is the lifecycle stage of a Server.
type ServerRunState int

const (
	StateUninitialized ServerRunState = iota
	StateInitializing
	StateRunning
	StateStopping
	StateStopped
)

func (s ServerRunState) String() string {
	str := []string{
		"Uninitialized",
		"Initializing",
		"Running",
		"Stopping",
		"Stopped",
	}
	if int(s) < 0 || int(s) >= len(str) {
		return "Unknown"
	}
	return str[int(s)]
}

// ServerHealth reports whether a Server failed, and when.
type ServerHealth int

const (
	HealthOK ServerHealth = iota
	HealthFailedInit
	HealthFailedRun
)

func (h ServerHealth) String() string {
	str := []string{
		"OK",
		"FailedInit",
		"FailedRun",
	}
	if int(h) < 0 || int(h) >= len(str) {
		return "Unknown"
	}
	return str[int(h)]
}
