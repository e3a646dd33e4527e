package ap

import (
	"fmt"
	"strings"

	"netkeeper/internal/credstore"
)

// hostapdConf renders the authenticator configuration. An empty password
// yields an open network, which is a valid identity.
func hostapdConf(p Params, identity credstore.APIdentity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", p.Interface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ssid=%s\n", identity.SSID)
	b.WriteString("hw_mode=g\n")
	fmt.Fprintf(&b, "channel=%d\n", p.Channel)
	b.WriteString("macaddr_acl=0\n")
	b.WriteString("ignore_broadcast_ssid=0\n")
	if identity.Password != "" {
		b.WriteString("auth_algs=1\n")
		b.WriteString("wpa=2\n")
		fmt.Fprintf(&b, "wpa_passphrase=%s\n", identity.Password)
		b.WriteString("wpa_key_mgmt=WPA-PSK\n")
		b.WriteString("rsn_pairwise=CCMP\n")
	}
	return b.String()
}

// dnsmasqConf renders the DHCP and name service configuration: a fixed
// private subnet, a lease range, and a local name mapped to the gateway
// so clients can discover the configuration UI by hostname.
func dnsmasqConf(p Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", p.Interface)
	b.WriteString("bind-interfaces\n")
	b.WriteString("domain-needed\n")
	b.WriteString("bogus-priv\n")
	fmt.Fprintf(&b, "dhcp-range=%s,%s,12h\n", p.DHCPStart, p.DHCPEnd)
	fmt.Fprintf(&b, "dhcp-option=option:router,%s\n", p.Gateway)
	fmt.Fprintf(&b, "address=/%s/%s\n", p.Hostname, p.Gateway)
	return b.String()
}
