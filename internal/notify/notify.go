// Package notify is the outbound interface to the display renderer. The
// supervisor only tells the renderer what to show; it never renders.
package notify

import (
	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-hclog"
)

// Renderer D-Bus coordinates. The renderer is a separate process that
// owns the e-paper display.
const (
	rendererService = "org.transitdisplay.Renderer"
	rendererPath    = "/org/transitdisplay/Renderer"
	rendererIface   = "org.transitdisplay.Renderer"
)

// Notifier requests display changes on connectivity transitions.
type Notifier interface {
	// ShowAccessPoint asks the renderer to show how to reach the setup
	// network. showPassword controls whether the passphrase is printed.
	ShowAccessPoint(ssid, password string, showPassword bool)
	// ShowReconnecting asks the renderer to show the idle/reconnecting
	// screen.
	ShowReconnecting()
}

// DBusNotifier calls the renderer over the system bus. All failures are
// logged and swallowed: a dead renderer must never stall the supervisor.
type DBusNotifier struct {
	conn *dbus.Conn
	log  hclog.Logger
}

// NewDBus connects to the system bus. The renderer itself may appear
// later; calls to an absent service just log a warning.
func NewDBus(log hclog.Logger) (*DBusNotifier, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	return &DBusNotifier{conn: conn, log: log.Named("notify")}, nil
}

func (n *DBusNotifier) ShowAccessPoint(ssid, password string, showPassword bool) {
	obj := n.conn.Object(rendererService, rendererPath)
	call := obj.Call(rendererIface+".ShowAccessPoint", 0, ssid, password, showPassword)
	if call.Err != nil {
		n.log.Warn("renderer ShowAccessPoint failed", "error", call.Err)
	}
}

func (n *DBusNotifier) ShowReconnecting() {
	obj := n.conn.Object(rendererService, rendererPath)
	call := obj.Call(rendererIface+".ShowReconnecting", 0)
	if call.Err != nil {
		n.log.Warn("renderer ShowReconnecting failed", "error", call.Err)
	}
}

// Nop is used when no renderer service is reachable at startup.
type Nop struct{}

func (Nop) ShowAccessPoint(string, string, bool) {}
func (Nop) ShowReconnecting()                    {}
