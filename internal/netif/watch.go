package netif

import (
	"context"
	"fmt"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
)

// LinkEvent is one observed change on the supervised interface.
type LinkEvent struct {
	Name    string
	Up      bool
	Carrier bool
	Removed bool
}

// Watcher receives link events for one interface from the kernel. It is
// purely observational; the supervisor keeps its own probe-driven truth
// and uses these events only for diagnostics.
type Watcher struct {
	conn  *netlink.Conn
	iface string
	log   hclog.Logger
	last  string
}

// NewWatcher subscribes to the kernel link multicast group.
func NewWatcher(iface string, log hclog.Logger) (*Watcher, error) {
	// Raw connection: event dispatch needs Header.Type to tell
	// RTM_NEWLINK from RTM_DELLINK.
	conn, err := netlink.Dial(syscall.NETLINK_ROUTE, &netlink.Config{
		Groups: 0x1, // RTMGRP_LINK
	})
	if err != nil {
		return nil, fmt.Errorf("dial netlink: %w", err)
	}
	return &Watcher{conn: conn, iface: iface, log: log.Named("linkwatch")}, nil
}

// Close closes the netlink connection, unblocking Run.
func (w *Watcher) Close() error {
	return w.conn.Close()
}

// Run receives and logs link transitions until the connection is closed
// or ctx is cancelled. Meant to run in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	for {
		msgs, err := w.conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Debug("netlink receive stopped", "error", err)
			}
			return
		}
		for _, msg := range msgs {
			var removed bool
			switch msg.Header.Type {
			case syscall.RTM_NEWLINK:
			case syscall.RTM_DELLINK:
				removed = true
			default:
				continue
			}
			w.handleLink(msg.Data, removed)
		}
	}
}

func (w *Watcher) handleLink(data []byte, removed bool) {
	var msg rtnetlink.LinkMessage
	if err := msg.UnmarshalBinary(data); err != nil {
		w.log.Debug("unparseable link message", "error", err)
		return
	}
	if msg.Attributes == nil || msg.Attributes.Name != w.iface {
		return
	}

	ev := LinkEvent{
		Name:    msg.Attributes.Name,
		Up:      msg.Attributes.OperationalState == rtnetlink.OperStateUp,
		Carrier: msg.Attributes.Carrier != nil && *msg.Attributes.Carrier == 1,
		Removed: removed,
	}

	// Kernel repeats link messages on unrelated attribute changes; only
	// log actual transitions.
	key := fmt.Sprintf("%v:%v:%v", ev.Up, ev.Carrier, ev.Removed)
	if key == w.last {
		return
	}
	w.last = key

	if ev.Removed {
		w.log.Warn("interface removed", "interface", ev.Name)
		return
	}
	w.log.Info("link changed", "interface", ev.Name, "up", ev.Up, "carrier", ev.Carrier)
}
