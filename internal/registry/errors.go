package registry

import "fmt"

// DiscoveryErrorKind distinguishes the ways a probe can fail.
type DiscoveryErrorKind string

const (
	// Unreachable means the address did not answer the probe.
	Unreachable DiscoveryErrorKind = "unreachable"
	// MalformedCard means the address answered with an invalid descriptor.
	MalformedCard DiscoveryErrorKind = "malformed_card"
)

// DiscoveryError is returned by Discover and Refresh when a probe fails.
type DiscoveryError struct {
	Kind    DiscoveryErrorKind
	Address string
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery of %s failed (%s): %v", e.Address, e.Kind, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ErrUnknownAgent is returned when an address or agent name was never registered.
var ErrUnknownAgent = fmt.Errorf("agent not registered")
