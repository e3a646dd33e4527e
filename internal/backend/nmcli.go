package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// NMCLIBackend drives NetworkManager through the nmcli tool.
type NMCLIBackend struct {
	iface string
	run   Runner
	link  LinkControl
	log   hclog.Logger
}

// NewNMCLI creates the NetworkManager variant for the given interface.
func NewNMCLI(iface string, run Runner, link LinkControl, log hclog.Logger) *NMCLIBackend {
	return &NMCLIBackend{
		iface: iface,
		run:   run,
		link:  link,
		log:   log.Named("nmcli"),
	}
}

func (b *NMCLIBackend) Name() string { return "nmcli" }

func (b *NMCLIBackend) ProbeConnected(ctx context.Context) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := b.run.Run(ctx, "nmcli", "-t", "-f", "GENERAL.STATE,GENERAL.CONNECTION", "device", "show", b.iface)
	if err != nil {
		b.log.Warn("probe failed, treating as disconnected", "error", err)
		return ProbeResult{}
	}
	return parseNMDeviceShow(out)
}

// parseNMDeviceShow parses terse `nmcli device show` output:
//
//	GENERAL.STATE:100 (connected)
//	GENERAL.CONNECTION:HomeWifi
func parseNMDeviceShow(out string) ProbeResult {
	var res ProbeResult
	for _, line := range strings.Split(out, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch key {
		case "GENERAL.STATE":
			res.Connected = strings.HasPrefix(val, "100")
		case "GENERAL.CONNECTION":
			res.SSID = val
		}
	}
	if !res.Connected {
		res.SSID = ""
	}
	return res
}

func (b *NMCLIBackend) ListConfiguredNetworks(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ctlTimeout)
	defer cancel()

	out, err := b.run.Run(ctx, "nmcli", "-t", "-f", "NAME,TYPE", "connection", "show")
	if err != nil {
		return nil, fmt.Errorf("nmcli connection show: %w", err)
	}
	return parseNMConnections(out), nil
}

// parseNMConnections extracts wireless profile names from terse
// `nmcli connection show` output (NAME:TYPE per line).
func parseNMConnections(out string) []string {
	var ssids []string
	for _, line := range strings.Split(out, "\n") {
		name, typ, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || name == "" {
			continue
		}
		if typ == "802-11-wireless" || typ == "wifi" {
			ssids = append(ssids, name)
		}
	}
	return ssids
}

func (b *NMCLIBackend) ScanForConfiguredMatch(ctx context.Context, known map[string]struct{}) bool {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	out, err := b.run.Run(ctx, "nmcli", "-t", "-f", "SSID", "device", "wifi", "list", "ifname", b.iface, "--rescan", "yes")
	if err != nil {
		b.log.Warn("scan failed, treating as no match", "error", err)
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		ssid := strings.TrimSpace(line)
		if ssid == "" {
			continue
		}
		if _, ok := known[ssid]; ok {
			b.log.Debug("configured network in range", "ssid", ssid)
			return true
		}
	}
	return false
}

func (b *NMCLIBackend) Join(ctx context.Context, ssid, password string) JoinResult {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	args := []string{"device", "wifi", "connect", ssid, "ifname", b.iface}
	if password != "" {
		args = append(args, "password", password)
	}
	out, err := b.run.Run(ctx, "nmcli", args...)
	if err != nil {
		// nmcli puts the reason on stdout even on failure.
		reason := out
		if reason == "" {
			reason = err.Error()
		}
		b.log.Warn("join failed", "ssid", ssid, "reason", reason)
		return JoinResult{Reason: reason}
	}
	return JoinResult{Success: true}
}

func (b *NMCLIBackend) SetInterfaceManaged(ctx context.Context, managed bool) error {
	ctx, cancel := context.WithTimeout(ctx, ctlTimeout)
	defer cancel()

	val := "no"
	if managed {
		val = "yes"
	}
	if _, err := b.run.Run(ctx, "nmcli", "device", "set", b.iface, "managed", val); err != nil {
		return fmt.Errorf("nmcli set managed %s: %w", val, err)
	}
	return nil
}

func (b *NMCLIBackend) EnsureReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ctlTimeout)
	defer cancel()

	if _, err := b.run.Run(ctx, "nmcli", "radio", "wifi", "on"); err != nil {
		return fmt.Errorf("nmcli radio on: %w", err)
	}
	if err := b.SetInterfaceManaged(ctx, true); err != nil {
		return err
	}
	if err := b.link.LinkUp(b.iface); err != nil {
		b.log.Warn("link up failed", "error", err)
	}
	// Re-enable autoconnect on the active profile set; an externally run
	// script may have turned it off.
	if _, err := b.run.Run(ctx, "nmcli", "device", "connect", b.iface); err != nil {
		b.log.Debug("device connect nudge failed", "error", err)
	}
	return nil
}
