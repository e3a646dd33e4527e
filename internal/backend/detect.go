package backend

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-hclog"
)

// Well-known bus names of the two supported stacks.
const (
	nmBusName  = "org.freedesktop.NetworkManager"
	wpaBusName = "fi.w1.wpa_supplicant1"
)

// Detect picks the backend variant by asking the system D-Bus which
// network management stack is present. Detection runs once at startup;
// an inconclusive answer defaults to the wpa variant. Detect fails only
// when not even the default variant has its control tool installed, which
// is an unrecoverable startup condition.
func Detect(iface string, run Runner, link LinkControl, log hclog.Logger) (Backend, error) {
	owner := busOwner(log)

	switch owner {
	case nmBusName:
		if !run.Available("nmcli") {
			log.Warn("NetworkManager on bus but nmcli missing, falling back to wpa variant")
			break
		}
		log.Info("network stack detected", "backend", "nmcli")
		return NewNMCLI(iface, run, link, log), nil
	case wpaBusName:
		log.Info("network stack detected", "backend", "wpa")
	default:
		log.Warn("network stack detection inconclusive, defaulting to wpa variant")
	}

	if !run.Available("wpa_cli") {
		return nil, fmt.Errorf("no usable network backend: neither nmcli nor wpa_cli present")
	}
	return NewWPA(iface, run, link, log), nil
}

// busOwner returns the bus name of the detected stack, or "".
func busOwner(log hclog.Logger) string {
	conn, err := dbus.SystemBus()
	if err != nil {
		log.Warn("system bus unavailable for stack detection", "error", err)
		return ""
	}

	hasOwner := func(name string) bool {
		var owned bool
		err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&owned)
		return err == nil && owned
	}

	// NetworkManager wins when both are present: it owns the interface
	// and drives the supplicant itself.
	if hasOwner(nmBusName) {
		return nmBusName
	}
	if hasOwner(wpaBusName) {
		return wpaBusName
	}
	return ""
}
