// Package netif controls the WiFi interface through rtnetlink: link
// up/down, static address assignment for AP mode, and carrier/operational
// state queries used by connectivity probes.
package netif

import (
	"fmt"
	"net"
	"syscall"

	"github.com/jsimonetti/rtnetlink"
)

// Controller performs link and address operations on named interfaces.
type Controller struct {
	conn *rtnetlink.Conn
}

// Dial opens the rtnetlink connection.
func Dial() (*Controller, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("dial rtnetlink: %w", err)
	}
	return &Controller{conn: conn}, nil
}

// Close closes the rtnetlink connection.
func (c *Controller) Close() error {
	return c.conn.Close()
}

// lookup finds the link message for the named interface.
func (c *Controller) lookup(name string) (rtnetlink.LinkMessage, error) {
	links, err := c.conn.Link.List()
	if err != nil {
		return rtnetlink.LinkMessage{}, fmt.Errorf("list links: %w", err)
	}
	for _, link := range links {
		if link.Attributes != nil && link.Attributes.Name == name {
			return link, nil
		}
	}
	return rtnetlink.LinkMessage{}, fmt.Errorf("interface %s not found", name)
}

// LinkUp brings the interface administratively up.
func (c *Controller) LinkUp(name string) error {
	return c.setFlags(name, syscall.IFF_UP, syscall.IFF_UP)
}

// LinkDown brings the interface administratively down.
func (c *Controller) LinkDown(name string) error {
	return c.setFlags(name, 0, syscall.IFF_UP)
}

func (c *Controller) setFlags(name string, flags, change uint32) error {
	link, err := c.lookup(name)
	if err != nil {
		return err
	}
	err = c.conn.Link.Set(&rtnetlink.LinkMessage{
		Family: syscall.AF_UNSPEC,
		Index:  link.Index,
		Flags:  flags,
		Change: change,
	})
	if err != nil {
		return fmt.Errorf("set link %s flags: %w", name, err)
	}
	return nil
}

// SetAddress assigns a static IPv4 address in CIDR form to the interface.
func (c *Controller) SetAddress(name, cidr string) error {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("parse %s: %w", cidr, err)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return fmt.Errorf("address %s is not IPv4", cidr)
	}
	link, err := c.lookup(name)
	if err != nil {
		return err
	}
	prefix, _ := ipnet.Mask.Size()

	broadcast := make(net.IP, 4)
	for i := range broadcast {
		broadcast[i] = ip4.Mask(ipnet.Mask)[i] | ^ipnet.Mask[i]
	}

	err = c.conn.Address.New(&rtnetlink.AddressMessage{
		Family:       syscall.AF_INET,
		PrefixLength: uint8(prefix),
		Scope:        syscall.RT_SCOPE_UNIVERSE,
		Index:        link.Index,
		Attributes: &rtnetlink.AddressAttributes{
			Address:   ip4,
			Local:     ip4,
			Broadcast: broadcast,
		},
	})
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", cidr, name, err)
	}
	return nil
}

// FlushAddresses removes all IPv4 addresses from the interface.
func (c *Controller) FlushAddresses(name string) error {
	link, err := c.lookup(name)
	if err != nil {
		return err
	}
	addrs, err := c.conn.Address.List()
	if err != nil {
		return fmt.Errorf("list addresses: %w", err)
	}
	for i := range addrs {
		addr := addrs[i]
		if addr.Index != link.Index || addr.Family != syscall.AF_INET {
			continue
		}
		if err := c.conn.Address.Delete(&addr); err != nil {
			return fmt.Errorf("flush %s: %w", name, err)
		}
	}
	return nil
}

// Carrier reports whether the interface has link-layer carrier.
func (c *Controller) Carrier(name string) (bool, error) {
	link, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	return link.Attributes.Carrier != nil && *link.Attributes.Carrier == 1, nil
}

// OperUp reports whether the interface is operationally up.
func (c *Controller) OperUp(name string) (bool, error) {
	link, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	return link.Attributes.OperationalState == rtnetlink.OperStateUp, nil
}

// HasIPv4 reports whether the interface currently holds an IPv4 address.
func (c *Controller) HasIPv4(name string) (bool, error) {
	link, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	addrs, err := c.conn.Address.List()
	if err != nil {
		return false, fmt.Errorf("list addresses: %w", err)
	}
	for _, addr := range addrs {
		if addr.Index == link.Index && addr.Family == syscall.AF_INET {
			return true, nil
		}
	}
	return false, nil
}
