// Package backend adapts whichever network management stack owns the
// WiFi interface. Two variants exist: NetworkManager driven through
// nmcli, and plain wpa_supplicant driven through wpa_cli. The variant is
// picked once at startup by probing the system D-Bus.
package backend

import (
	"context"
	"time"
)

// Per-call time bounds. The supervisor loop never issues two external
// calls concurrently, so these bound the loop latency directly.
const (
	probeTimeout = 5 * time.Second
	scanTimeout  = 15 * time.Second
	joinTimeout  = 30 * time.Second
	ctlTimeout   = 10 * time.Second
)

// ProbeResult reports current connectivity truth. Tool failures are
// reported as not connected, never as errors.
type ProbeResult struct {
	Connected bool
	SSID      string
}

// JoinResult distinguishes a definite failure (retry later) from an
// ambiguous outcome the caller should treat as not-yet-connected.
type JoinResult struct {
	Success bool
	Reason  string
}

// Backend is the capability set over the underlying network manager.
type Backend interface {
	// Name identifies the variant ("nmcli" or "wpa").
	Name() string

	// ProbeConnected reports whether the interface has an active
	// connection and which SSID it is on.
	ProbeConnected(ctx context.Context) ProbeResult

	// ListConfiguredNetworks returns the SSIDs the underlying stack has
	// credentials for.
	ListConfiguredNetworks(ctx context.Context) ([]string, error)

	// ScanForConfiguredMatch triggers a scan and reports whether any of
	// the known SSIDs is in range. Scan failures mean no match.
	ScanForConfiguredMatch(ctx context.Context, known map[string]struct{}) bool

	// Join attempts to connect to the given network. Idempotent: joining
	// an already-joined network is a harmless no-op.
	Join(ctx context.Context, ssid, password string) JoinResult

	// SetInterfaceManaged hands the interface to (true) or takes it from
	// (false) the underlying stack.
	SetInterfaceManaged(ctx context.Context, managed bool) error

	// EnsureReady restores sane defaults: link up, radio on, autoconnect
	// enabled. Used when entering client mode and opportunistically when
	// idle, since external scripts may have left the interface in a
	// non-default state.
	EnsureReady(ctx context.Context) error
}

// LinkControl is the slice of netif the backends need.
type LinkControl interface {
	LinkUp(name string) error
	FlushAddresses(name string) error
	HasIPv4(name string) (bool, error)
}
