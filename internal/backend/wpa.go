package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// WPABackend drives a bare wpa_supplicant through wpa_cli. This is the
// legacy variant and the default when stack detection is inconclusive.
type WPABackend struct {
	iface string
	run   Runner
	link  LinkControl
	log   hclog.Logger
}

// NewWPA creates the wpa_supplicant variant for the given interface.
func NewWPA(iface string, run Runner, link LinkControl, log hclog.Logger) *WPABackend {
	return &WPABackend{
		iface: iface,
		run:   run,
		link:  link,
		log:   log.Named("wpa"),
	}
}

func (b *WPABackend) Name() string { return "wpa" }

func (b *WPABackend) ctl(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-i", b.iface}, args...)
	return b.run.Run(ctx, "wpa_cli", full...)
}

func (b *WPABackend) ProbeConnected(ctx context.Context) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := b.ctl(ctx, "status")
	if err != nil {
		b.log.Warn("probe failed, treating as disconnected", "error", err)
		return ProbeResult{}
	}
	res := parseWPAStatus(out)
	if !res.Connected {
		return res
	}
	// Association alone is not connectivity; require an address too.
	if hasIP, err := b.link.HasIPv4(b.iface); err == nil && !hasIP {
		b.log.Debug("associated but no IPv4 yet", "ssid", res.SSID)
		return ProbeResult{}
	}
	return res
}

// parseWPAStatus parses `wpa_cli status` key=value output. COMPLETED is
// the only state counted as connected.
func parseWPAStatus(out string) ProbeResult {
	var res ProbeResult
	for _, line := range strings.Split(out, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "wpa_state":
			res.Connected = val == "COMPLETED"
		case "ssid":
			res.SSID = val
		}
	}
	if !res.Connected {
		res.SSID = ""
	}
	return res
}

func (b *WPABackend) ListConfiguredNetworks(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ctlTimeout)
	defer cancel()

	out, err := b.ctl(ctx, "list_networks")
	if err != nil {
		return nil, fmt.Errorf("wpa_cli list_networks: %w", err)
	}
	return parseWPANetworkList(out), nil
}

// parseWPANetworkList parses the tab-separated list_networks table,
// skipping the header line.
func parseWPANetworkList(out string) []string {
	var ssids []string
	for i, line := range strings.Split(out, "\n") {
		if i == 0 && strings.HasPrefix(line, "network id") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 || fields[1] == "" {
			continue
		}
		ssids = append(ssids, fields[1])
	}
	return ssids
}

func (b *WPABackend) ScanForConfiguredMatch(ctx context.Context, known map[string]struct{}) bool {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	if _, err := b.ctl(ctx, "scan"); err != nil {
		b.log.Warn("scan trigger failed, treating as no match", "error", err)
		return false
	}

	// wpa_cli has no blocking scan; poll results until the deadline.
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(2 * time.Second):
		}
		out, err := b.ctl(ctx, "scan_results")
		if err != nil {
			continue
		}
		for _, ssid := range parseWPAScanResults(out) {
			if _, ok := known[ssid]; ok {
				b.log.Debug("configured network in range", "ssid", ssid)
				return true
			}
		}
	}
}

// parseWPAScanResults extracts SSIDs from the scan_results table. The
// SSID is the fifth tab-separated column; hidden networks have none.
func parseWPAScanResults(out string) []string {
	var ssids []string
	for i, line := range strings.Split(out, "\n") {
		if i == 0 && strings.HasPrefix(line, "bssid") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 || fields[4] == "" {
			continue
		}
		ssids = append(ssids, fields[4])
	}
	return ssids
}

func (b *WPABackend) Join(ctx context.Context, ssid, password string) JoinResult {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	id, err := b.networkID(ctx, ssid)
	if err != nil {
		return JoinResult{Reason: err.Error()}
	}
	if id < 0 {
		id, err = b.addNetwork(ctx, ssid, password)
		if err != nil {
			b.log.Warn("add network failed", "ssid", ssid, "error", err)
			return JoinResult{Reason: err.Error()}
		}
	}

	idStr := strconv.Itoa(id)
	if out, err := b.ctl(ctx, "select_network", idStr); err != nil || strings.Contains(out, "FAIL") {
		return JoinResult{Reason: fmt.Sprintf("select_network %s failed", idStr)}
	}
	// Keep all other profiles eligible for autoconnect afterwards.
	_, _ = b.ctl(ctx, "enable_network", "all")
	_, _ = b.ctl(ctx, "save_config")

	// Wait for the association to complete, then kick DHCP.
	for {
		select {
		case <-ctx.Done():
			return JoinResult{Reason: "association timed out"}
		case <-time.After(2 * time.Second):
		}
		out, err := b.ctl(ctx, "status")
		if err != nil {
			continue
		}
		if parseWPAStatus(out).Connected {
			if _, err := b.run.Run(ctx, "dhcpcd", "-4", "-w", b.iface); err != nil {
				b.log.Warn("dhcp after join failed", "error", err)
				return JoinResult{Reason: "dhcp failed"}
			}
			return JoinResult{Success: true}
		}
	}
}

// networkID returns the configured network id for ssid, or -1.
func (b *WPABackend) networkID(ctx context.Context, ssid string) (int, error) {
	out, err := b.ctl(ctx, "list_networks")
	if err != nil {
		return -1, fmt.Errorf("wpa_cli list_networks: %w", err)
	}
	for i, line := range strings.Split(out, "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) >= 2 && fields[1] == ssid {
			id, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			return id, nil
		}
	}
	return -1, nil
}

func (b *WPABackend) addNetwork(ctx context.Context, ssid, password string) (int, error) {
	out, err := b.ctl(ctx, "add_network")
	if err != nil {
		return -1, fmt.Errorf("add_network: %w", err)
	}
	id, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return -1, fmt.Errorf("add_network returned %q", out)
	}
	idStr := strconv.Itoa(id)

	set := func(key, val string) error {
		out, err := b.ctl(ctx, "set_network", idStr, key, val)
		if err != nil || strings.Contains(out, "FAIL") {
			return fmt.Errorf("set_network %s %s failed", idStr, key)
		}
		return nil
	}

	if err := set("ssid", fmt.Sprintf("%q", ssid)); err != nil {
		return -1, err
	}
	if password == "" {
		if err := set("key_mgmt", "NONE"); err != nil {
			return -1, err
		}
	} else if err := set("psk", fmt.Sprintf("%q", password)); err != nil {
		return -1, err
	}
	return id, nil
}

func (b *WPABackend) SetInterfaceManaged(ctx context.Context, managed bool) error {
	ctx, cancel := context.WithTimeout(ctx, ctlTimeout)
	defer cancel()

	if !managed {
		if _, err := b.ctl(ctx, "disconnect"); err != nil {
			return fmt.Errorf("wpa_cli disconnect: %w", err)
		}
		return nil
	}
	if err := b.link.LinkUp(b.iface); err != nil {
		return fmt.Errorf("link up: %w", err)
	}
	if _, err := b.ctl(ctx, "reconnect"); err != nil {
		return fmt.Errorf("wpa_cli reconnect: %w", err)
	}
	return nil
}

func (b *WPABackend) EnsureReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ctlTimeout)
	defer cancel()

	// Best-effort: the radio may be soft-blocked after an external script.
	if b.run.Available("rfkill") {
		if _, err := b.run.Run(ctx, "rfkill", "unblock", "wifi"); err != nil {
			b.log.Debug("rfkill unblock failed", "error", err)
		}
	}
	if err := b.link.LinkUp(b.iface); err != nil {
		return fmt.Errorf("link up: %w", err)
	}
	if _, err := b.ctl(ctx, "reconfigure"); err != nil {
		return fmt.Errorf("wpa_cli reconfigure: %w", err)
	}
	_, _ = b.ctl(ctx, "enable_network", "all")
	return nil
}
