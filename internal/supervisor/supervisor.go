// Package supervisor owns the connectivity state machine. It decides,
// once per tick, whether the device should be a WiFi client or host its
// own access point, and drives that transition through the backend and
// AP controller. It is the only component that mutates mode state; all
// collaborators are injected so the machine is testable without a radio.
package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"netkeeper/internal/backend"
	"netkeeper/internal/credstore"
	"netkeeper/internal/metrics"
	"netkeeper/internal/notify"
)

// State is the connectivity mode. Exactly one is current; transitions
// are the only way to change it.
type State string

const (
	StateClientConnected    State = "client_connected"
	StateClientDisconnected State = "client_disconnected"
	StateBootReconnect      State = "boot_reconnect"
	StateApActive           State = "ap_active"

	// stateStartup is the pre-Init placeholder; never reachable after
	// initial state resolution.
	stateStartup State = "startup"
)

// StateNames lists all states, for the one-hot metrics gauge.
var StateNames = []string{
	string(StateClientConnected),
	string(StateClientDisconnected),
	string(StateBootReconnect),
	string(StateApActive),
}

// Store is the credential store capability the supervisor consumes.
type Store interface {
	APIdentity() credstore.APIdentity
	LastKnown() (credstore.Credential, bool)
	KnownSSIDs() map[string]struct{}
	RecordConnected(ssid, password string)
	ConsumeForceAP() bool
}

// AccessPoint is the AP controller capability the supervisor consumes.
type AccessPoint interface {
	Start(identity credstore.APIdentity) error
	Stop()
	Running() bool
}

// Clock abstracts time so the timer logic is testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }

// Config holds the supervisor timing parameters.
type Config struct {
	CheckInterval       time.Duration
	DisconnectThreshold time.Duration
	APRescanInterval    time.Duration
	BootConnectTimeout  time.Duration

	// APRetryBackoff is the pause after a failed AP start before the
	// next attempt.
	APRetryBackoff time.Duration
	// SettleDelay is the pause after leaving AP mode before verifying
	// client connectivity.
	SettleDelay time.Duration
}

// Deps are the injected collaborators.
type Deps struct {
	Backend  backend.Backend
	AP       AccessPoint
	Store    Store
	Notifier notify.Notifier
	Metrics  *metrics.Registry
	Clock    Clock
	Log      hclog.Logger
}

// Supervisor is the connectivity state machine. All fields are owned by
// the single tick goroutine; there is no parallelism, only sequencing.
type Supervisor struct {
	cfg Config

	backend  backend.Backend
	ap       AccessPoint
	store    Store
	notifier notify.Notifier
	metrics  *metrics.Registry
	clock    Clock
	log      hclog.Logger

	state           State
	disconnectSince *time.Time
	// bootGraceDeadline is set at most once per process lifetime, and
	// only before any AP activation.
	bootGraceDeadline *time.Time

	disconnectTicks int
	apRetryAt       time.Time
	joinBusy        atomic.Bool

	loopStarted atomic.Bool
	loopDone    chan struct{}
}

// New creates a Supervisor. Initial state is resolved by Init.
func New(cfg Config, deps Deps) *Supervisor {
	if cfg.APRetryBackoff == 0 {
		cfg.APRetryBackoff = 30 * time.Second
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 5 * time.Second
	}
	clock := deps.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Supervisor{
		cfg:      cfg,
		backend:  deps.Backend,
		ap:       deps.AP,
		store:    deps.Store,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		clock:    clock,
		log:      deps.Log.Named("supervisor"),
		state:    stateStartup,
		loopDone: make(chan struct{}),
	}
}

// State returns the current connectivity state.
func (s *Supervisor) State() State {
	return s.state
}

// setState performs a transition, maintaining the timer invariants and
// the metrics gauge.
func (s *Supervisor) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to

	now := s.clock.Now()
	switch to {
	case StateClientDisconnected, StateBootReconnect:
		if s.disconnectSince == nil {
			s.disconnectSince = &now
		}
	default:
		s.disconnectSince = nil
	}
	if to != StateBootReconnect {
		s.bootGraceDeadline = nil
	}

	s.log.Info("state transition", "from", from, "to", to)
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
		s.metrics.SetState(string(to), StateNames)
	}
}

// Init resolves the initial state once at startup: a pending force-AP
// flag wins over everything; otherwise current connectivity is probed
// and, when a last-known network exists, a boot grace window opens with
// one non-blocking kick join.
func (s *Supervisor) Init(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.SetState(string(s.state), StateNames)
	}

	if s.store.ConsumeForceAP() {
		s.log.Info("force-ap flag present, entering access point mode")
		if !s.enterAP(ctx) {
			s.setState(StateClientDisconnected)
		}
		return
	}

	res := s.backend.ProbeConnected(ctx)
	if res.Connected {
		s.setState(StateClientConnected)
		s.store.RecordConnected(res.SSID, "")
		s.log.Info("already connected at startup", "ssid", res.SSID)
		return
	}

	if last, ok := s.store.LastKnown(); ok {
		s.setState(StateBootReconnect)
		deadline := s.clock.Now().Add(s.cfg.BootConnectTimeout)
		s.bootGraceDeadline = &deadline
		s.log.Info("boot reconnect window open",
			"ssid", last.SSID, "deadline", deadline.Format(time.RFC3339))
		s.kickJoin(ctx, last.SSID, last.Password)
		return
	}

	s.setState(StateClientDisconnected)
	s.log.Info("no last-known network, waiting for disconnect threshold")
}

// Run executes the tick loop until ctx is cancelled. The tick cadence
// follows the state: check interval as a client, rescan interval in AP
// mode.
func (s *Supervisor) Run(ctx context.Context) error {
	s.loopStarted.Store(true)
	defer close(s.loopDone)
	s.Init(ctx)
	for {
		interval := s.cfg.CheckInterval
		if s.state == StateApActive {
			interval = s.cfg.APRescanInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(interval):
		}
		s.safeTick(ctx)
	}
}

// safeTick runs one tick, recovering panics so a single bad tick can
// never terminate the daemon.
func (s *Supervisor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked", "panic", r, "state", s.state)
			if s.metrics != nil {
				s.metrics.TickPanics.Inc()
			}
		}
	}()
	s.Tick(ctx)
}

// Tick runs one evaluation of the state machine. At most one mode
// transition is issued per tick.
func (s *Supervisor) Tick(ctx context.Context) {
	switch s.state {
	case StateClientConnected:
		s.tickConnected(ctx)
	case StateClientDisconnected, StateBootReconnect:
		s.tickDisconnected(ctx)
	case StateApActive:
		s.tickAP(ctx)
	}
}

func (s *Supervisor) tickConnected(ctx context.Context) {
	res := s.backend.ProbeConnected(ctx)
	if res.Connected {
		s.store.RecordConnected(res.SSID, "")
		// Self-healing: a stale force-ap flag left by a failed boot must
		// not fire on the next restart while we are happily connected.
		if s.store.ConsumeForceAP() {
			s.log.Warn("cleared stale force-ap flag while connected")
		}
		return
	}

	if s.metrics != nil {
		s.metrics.ProbeFailures.Inc()
	}
	s.log.Warn("connectivity lost")
	s.disconnectTicks = 0
	s.setState(StateClientDisconnected)

	// Restore sane interface defaults once on entry; external scripts
	// may have left the radio or link in a bad state.
	if err := s.backend.EnsureReady(ctx); err != nil {
		s.log.Warn("ensure ready failed", "error", err)
	}
}

func (s *Supervisor) tickDisconnected(ctx context.Context) {
	now := s.clock.Now()
	s.disconnectTicks++

	if s.bootGraceDeadline != nil {
		if now.Before(*s.bootGraceDeadline) {
			res := s.backend.ProbeConnected(ctx)
			if res.Connected {
				s.log.Info("reconnected within boot grace", "ssid", res.SSID)
				s.setState(StateClientConnected)
				s.store.RecordConnected(res.SSID, "")
				return
			}
			if s.disconnectTicks%3 == 0 {
				if last, ok := s.store.LastKnown(); ok {
					s.kickJoin(ctx, last.SSID, last.Password)
				}
			}
			return
		}
		// Grace expired: evaluate the AP rule immediately rather than
		// waiting out another full disconnect threshold.
		s.log.Info("boot grace window expired")
		s.bootGraceDeadline = nil
		s.setState(StateClientDisconnected)
		s.tryEnterAP(ctx, now)
		return
	}

	if s.disconnectSince == nil {
		// Should not happen; repair the timer rather than crash.
		s.disconnectSince = &now
		return
	}
	if now.Sub(*s.disconnectSince) >= s.cfg.DisconnectThreshold {
		s.tryEnterAP(ctx, now)
		return
	}

	res := s.backend.ProbeConnected(ctx)
	if res.Connected {
		s.log.Info("reconnected", "ssid", res.SSID)
		s.setState(StateClientConnected)
		s.store.RecordConnected(res.SSID, "")
	}
}

// tryEnterAP applies the AP-fallback rule, honoring the retry backoff
// after a failed start.
func (s *Supervisor) tryEnterAP(ctx context.Context, now time.Time) {
	// Current truth first: a connection recovered since the last tick
	// wins over the fallback rule, even inside the retry backoff and
	// when the fallback is disabled entirely.
	res := s.backend.ProbeConnected(ctx)
	if res.Connected {
		s.log.Info("reconnected", "ssid", res.SSID)
		s.setState(StateClientConnected)
		s.store.RecordConnected(res.SSID, "")
		return
	}

	identity := s.store.APIdentity()
	if !identity.Enabled {
		s.log.Debug("ap fallback disabled, staying disconnected")
		return
	}
	if now.Before(s.apRetryAt) {
		return
	}
	if s.enterAP(ctx) {
		return
	}
	s.apRetryAt = now.Add(s.cfg.APRetryBackoff)
	// The controller rolled its partial state back; make sure the client
	// stack owns the interface again so a later join is not blocked.
	if err := s.backend.SetInterfaceManaged(ctx, true); err != nil {
		s.log.Warn("restore managed mode failed", "error", err)
	}
}

// enterAP performs the client-to-AP transition. Returns false on
// failure, with the interface left clean.
func (s *Supervisor) enterAP(ctx context.Context) bool {
	identity := s.store.APIdentity()

	// Mutual exclusion: the client stack must release the interface
	// before hostapd takes it.
	if err := s.backend.SetInterfaceManaged(ctx, false); err != nil {
		s.log.Warn("release interface failed", "error", err)
	}

	if err := s.ap.Start(identity); err != nil {
		s.log.Error("access point start failed", "error", err)
		if s.metrics != nil {
			s.metrics.APStarts.WithLabelValues("failure").Inc()
		}
		return false
	}
	if s.metrics != nil {
		s.metrics.APStarts.WithLabelValues("success").Inc()
	}
	s.setState(StateApActive)
	s.notifier.ShowAccessPoint(identity.SSID, identity.Password, identity.Password != "")
	return true
}

func (s *Supervisor) tickAP(ctx context.Context) {
	known := s.store.KnownSSIDs()
	if configured, err := s.backend.ListConfiguredNetworks(ctx); err == nil {
		for _, ssid := range configured {
			known[ssid] = struct{}{}
		}
	}
	if len(known) == 0 {
		return
	}
	if !s.backend.ScanForConfiguredMatch(ctx, known) {
		return
	}

	s.log.Info("configured network in range, leaving access point mode")
	s.ap.Stop()
	if err := s.backend.SetInterfaceManaged(ctx, true); err != nil {
		s.log.Warn("restore managed mode failed", "error", err)
	}
	if err := s.backend.EnsureReady(ctx); err != nil {
		s.log.Warn("ensure ready failed", "error", err)
	}

	s.clock.Sleep(s.cfg.SettleDelay)
	res := s.backend.ProbeConnected(ctx)
	if !res.Connected {
		if last, ok := s.store.LastKnown(); ok {
			s.kickJoinWait(ctx, last.SSID, last.Password)
			res = s.backend.ProbeConnected(ctx)
		}
	}

	if res.Connected {
		s.setState(StateClientConnected)
		s.store.RecordConnected(res.SSID, "")
		if s.store.ConsumeForceAP() {
			s.log.Warn("cleared stale force-ap flag after leaving access point")
		}
		s.notifier.ShowReconnecting()
		return
	}

	// Do not thrash: put the AP back up and stay until the next rescan.
	s.log.Warn("client restore did not reach connectivity, re-entering access point")
	if !s.enterAP(ctx) {
		s.log.Error("access point restart failed, falling back to disconnected")
		s.setState(StateClientDisconnected)
		s.disconnectTicks = 0
	}
}

// kickJoin issues a bounded join attempt without blocking the tick.
// Overlapping kicks are suppressed.
func (s *Supervisor) kickJoin(ctx context.Context, ssid, password string) {
	if !s.joinBusy.CompareAndSwap(false, true) {
		return
	}
	s.log.Debug("kicking join attempt", "ssid", ssid)
	go func() {
		defer s.joinBusy.Store(false)
		s.join(ctx, ssid, password)
	}()
}

// kickJoinWait is the synchronous variant used during AP exit, where the
// tick already owns the transition.
func (s *Supervisor) kickJoinWait(ctx context.Context, ssid, password string) {
	if !s.joinBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.joinBusy.Store(false)
	s.join(ctx, ssid, password)
}

func (s *Supervisor) join(ctx context.Context, ssid, password string) {
	res := s.backend.Join(ctx, ssid, password)
	result := "failure"
	if res.Success {
		result = "success"
	}
	if s.metrics != nil {
		s.metrics.JoinAttempts.WithLabelValues(result).Inc()
	}
	if !res.Success {
		s.log.Warn("join attempt failed", "ssid", ssid, "reason", res.Reason)
	}
}

// Shutdown makes one bounded best-effort attempt to restore client mode
// when stopping in AP state. It never waits for eventual success.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	// The tick loop owns all mode state. Wait for it to exit so the
	// restore below cannot race an in-flight transition.
	if s.loopStarted.Load() {
		select {
		case <-s.loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.state != StateApActive {
		return nil
	}
	s.log.Info("restoring client mode before exit")
	s.ap.Stop()
	if err := s.backend.SetInterfaceManaged(ctx, true); err != nil {
		return err
	}
	return s.backend.EnsureReady(ctx)
}
