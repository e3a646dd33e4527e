// Command netkeeper is the connectivity supervisor daemon for the
// transit departure display appliance. It keeps the device reachable by
// switching the WiFi interface between client mode and a self-hosted
// setup access point.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"netkeeper/internal/ap"
	"netkeeper/internal/backend"
	"netkeeper/internal/config"
	"netkeeper/internal/credstore"
	"netkeeper/internal/metrics"
	"netkeeper/internal/netif"
	"netkeeper/internal/notify"
	"netkeeper/internal/shutdown"
	"netkeeper/internal/supervisor"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "netkeeper",
		Usage:   "connectivity supervisor: WiFi client with access point fallback",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "interface",
				Usage: "WiFi interface to supervise (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level: debug, info, warn, error (overrides config)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v := c.String("interface"); v != "" {
		cfg.Interface = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:            "netkeeper",
		Level:           hclog.LevelFromString(cfg.Log.Level),
		IncludeLocation: false,
	})
	log.Info("starting", "version", version, "interface", cfg.Interface)

	link, err := netif.Dial()
	if err != nil {
		return fmt.Errorf("netlink: %w", err)
	}
	defer link.Close()

	store := credstore.New(cfg.Paths.DeviceConfig, cfg.Paths.ForceAPFlag, log)

	// Backend detection is the one startup step that may be fatal: with
	// no usable network stack the device cannot be supervised at all.
	be, err := backend.Detect(cfg.Interface, backend.ExecRunner{}, link, log)
	if err != nil {
		return err
	}

	gateway, prefix, err := splitGateway(cfg.AP.Subnet, cfg.AP.Gateway)
	if err != nil {
		return fmt.Errorf("ap subnet: %w", err)
	}
	apCtl := ap.New(ap.Params{
		Interface: cfg.Interface,
		RunDir:    cfg.Paths.APRunDir,
		Gateway:   gateway,
		Prefix:    prefix,
		DHCPStart: cfg.AP.DHCPStart,
		DHCPEnd:   cfg.AP.DHCPEnd,
		Channel:   cfg.AP.Channel,
		Hostname:  cfg.AP.Hostname,
	}, link, ap.ExecProcRunner{}, log)

	var notifier notify.Notifier
	if n, err := notify.NewDBus(log); err != nil {
		log.Warn("display renderer bus unavailable, notifications disabled", "error", err)
		notifier = notify.Nop{}
	} else {
		notifier = n
	}

	reg := metrics.NewRegistry()
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, reg, log)
	}

	sup := supervisor.New(supervisor.Config{
		CheckInterval:       cfg.Monitor.CheckInterval(),
		DisconnectThreshold: cfg.Monitor.DisconnectThreshold(),
		APRescanInterval:    cfg.Monitor.APRescanInterval(),
		BootConnectTimeout:  cfg.Monitor.BootConnectTimeout(),
	}, supervisor.Deps{
		Backend:  be,
		AP:       apCtl,
		Store:    store,
		Notifier: notifier,
		Metrics:  reg,
		Log:      log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The web configuration UI rewrites the device config while we run.
	go func() {
		if err := store.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("device config watcher stopped", "error", err)
		}
	}()

	// Kernel link events, for diagnostics alongside the probe loop.
	if watcher, err := netif.NewWatcher(cfg.Interface, log); err != nil {
		log.Warn("link watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	handler := shutdown.NewHandler(30 * time.Second)
	handler.OnShutdown(func(shutdownCtx context.Context) error {
		cancel()
		return sup.Shutdown(shutdownCtx)
	})

	go func() {
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("supervisor loop stopped", "error", err)
		}
	}()

	log.Info("daemon ready")
	if err := handler.Wait(); err != nil {
		log.Warn("shutdown cleanup incomplete", "error", err)
	}
	log.Info("stopped")
	return nil
}

// splitGateway validates that the gateway lies inside the AP subnet and
// returns it with the subnet prefix length.
func splitGateway(subnet, gateway string) (string, int, error) {
	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return "", 0, fmt.Errorf("parse subnet %s: %w", subnet, err)
	}
	gw := net.ParseIP(gateway)
	if gw == nil || !ipnet.Contains(gw) {
		return "", 0, fmt.Errorf("gateway %s not inside subnet %s", gateway, subnet)
	}
	prefix, _ := ipnet.Mask.Size()
	return gateway, prefix, nil
}

func serveMetrics(addr string, reg *metrics.Registry, log hclog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	log.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", "error", err)
	}
}
