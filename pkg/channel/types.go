package channel

// Capability expresses optional host features a channel may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// Info contains descriptive metadata for a channel implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Version      string
	Capabilities []Capability
}

// State represents the lifecycle position of a channel instance.
type State string

const (
	StateRegistered State = "registered"
	StateStarted    State = "started"
	StateStopped    State = "stopped"
)
