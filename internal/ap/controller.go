// Package ap materializes and supervises the self-hosted access point:
// deterministic hostapd and dnsmasq configuration, a static gateway
// address on the interface, and the lifecycle of both service processes.
package ap

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"netkeeper/internal/credstore"
)

// settleDelay is how long hostapd gets to crash before Start declares
// success. Bad channel or driver problems surface within a few seconds.
const settleDelay = 3 * time.Second

// IfaceControl is the slice of netif the controller needs.
type IfaceControl interface {
	LinkUp(name string) error
	LinkDown(name string) error
	SetAddress(name, cidr string) error
	FlushAddresses(name string) error
}

// Params are the fixed network parameters of the captive network.
type Params struct {
	Interface string
	RunDir    string
	Gateway   string // e.g. 192.168.4.1
	Prefix    int    // e.g. 24
	DHCPStart string
	DHCPEnd   string
	Channel   int
	Hostname  string // local name mapped to the gateway for discovery
}

// Controller starts and stops the AP service pair.
type Controller struct {
	params Params
	link   IfaceControl
	procs  ProcRunner
	log    hclog.Logger
	settle time.Duration

	hostapd Proc
	dnsmasq Proc
	running bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithSettleDelay overrides the post-start liveness delay.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settle = d }
}

// New creates a Controller. Both service binaries are only required once
// Start is called.
func New(params Params, link IfaceControl, procs ProcRunner, log hclog.Logger, opts ...Option) *Controller {
	c := &Controller{
		params: params,
		link:   link,
		procs:  procs,
		log:    log.Named("ap"),
		settle: settleDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether the AP services are currently supervised.
func (c *Controller) Running() bool {
	return c.running && c.hostapd != nil && c.hostapd.Alive()
}

// Start brings up the access point with the given identity. On any
// failure the partial state is rolled back through Stop so a subsequent
// client-mode join is not blocked.
func (c *Controller) Start(identity credstore.APIdentity) error {
	if c.running {
		// Idempotent: re-asserting a running AP is a no-op.
		if c.Running() {
			return nil
		}
		// Services died underneath us; clean up before retrying.
		c.Stop()
	}

	if err := c.start(identity); err != nil {
		c.Stop()
		return err
	}
	c.running = true
	c.log.Info("access point up", "ssid", identity.SSID, "gateway", c.params.Gateway)
	return nil
}

func (c *Controller) start(identity credstore.APIdentity) error {
	if err := os.MkdirAll(c.params.RunDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	hostapdPath := filepath.Join(c.params.RunDir, "hostapd.conf")
	dnsmasqPath := filepath.Join(c.params.RunDir, "dnsmasq.conf")
	if err := os.WriteFile(hostapdPath, []byte(hostapdConf(c.params, identity)), 0o600); err != nil {
		return fmt.Errorf("write hostapd config: %w", err)
	}
	if err := os.WriteFile(dnsmasqPath, []byte(dnsmasqConf(c.params)), 0o644); err != nil {
		return fmt.Errorf("write dnsmasq config: %w", err)
	}

	// Take exclusive ownership of the interface and give it the static
	// gateway address the DHCP range points at.
	if err := c.link.FlushAddresses(c.params.Interface); err != nil {
		return fmt.Errorf("flush addresses: %w", err)
	}
	if err := c.link.LinkUp(c.params.Interface); err != nil {
		return fmt.Errorf("link up: %w", err)
	}
	cidr := fmt.Sprintf("%s/%d", c.params.Gateway, c.params.Prefix)
	if err := c.link.SetAddress(c.params.Interface, cidr); err != nil {
		return fmt.Errorf("assign %s: %w", cidr, err)
	}

	var err error
	c.dnsmasq, err = c.procs.Start("dnsmasq", "--no-daemon", "--conf-file="+dnsmasqPath)
	if err != nil {
		return fmt.Errorf("start dnsmasq: %w", err)
	}
	c.hostapd, err = c.procs.Start("hostapd", hostapdPath)
	if err != nil {
		return fmt.Errorf("start hostapd: %w", err)
	}

	time.Sleep(c.settle)
	if !c.hostapd.Alive() {
		return fmt.Errorf("hostapd exited during settle window")
	}
	return nil
}

// Stop tears the AP down. Idempotent: safe to call when nothing runs,
// and always safe as a cleanup step after a failed Start.
func (c *Controller) Stop() {
	if c.hostapd != nil {
		if err := c.hostapd.Stop(); err != nil {
			c.log.Warn("hostapd stop failed", "error", err)
		}
		c.hostapd = nil
	}
	if c.dnsmasq != nil {
		if err := c.dnsmasq.Stop(); err != nil {
			c.log.Warn("dnsmasq stop failed", "error", err)
		}
		c.dnsmasq = nil
	}
	if err := c.link.FlushAddresses(c.params.Interface); err != nil {
		c.log.Warn("flush addresses failed", "error", err)
	}
	if err := c.link.LinkDown(c.params.Interface); err != nil {
		c.log.Warn("link down failed", "error", err)
	}
	if c.running {
		c.log.Info("access point down")
	}
	c.running = false
}
