package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"netkeeper/internal/backend"
	"netkeeper/internal/credstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Sleep(time.Duration) {}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu         sync.Mutex
	connected  bool
	ssid       string
	joinResult backend.JoinResult
	joinCalls  int
	joined     chan string
	scanMatch  bool
	managed    bool
	configured []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{managed: true, joined: make(chan string, 16)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) setConnected(connected bool, ssid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = connected
	b.ssid = ssid
}

func (b *fakeBackend) ProbeConnected(context.Context) backend.ProbeResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return backend.ProbeResult{}
	}
	return backend.ProbeResult{Connected: true, SSID: b.ssid}
}

func (b *fakeBackend) ListConfiguredNetworks(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configured, nil
}

func (b *fakeBackend) ScanForConfiguredMatch(_ context.Context, known map[string]struct{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanMatch
}

func (b *fakeBackend) Join(_ context.Context, ssid, password string) backend.JoinResult {
	b.mu.Lock()
	res := b.joinResult
	b.joinCalls++
	if res.Success {
		b.connected = true
		b.ssid = ssid
	}
	b.mu.Unlock()
	b.joined <- ssid
	return res
}

func (b *fakeBackend) joinCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.joinCalls
}

func (b *fakeBackend) SetInterfaceManaged(_ context.Context, managed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.managed = managed
	return nil
}

func (b *fakeBackend) isManaged() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.managed
}

func (b *fakeBackend) EnsureReady(context.Context) error { return nil }

type fakeStore struct {
	ap           credstore.APIdentity
	last         *credstore.Credential
	known        map[string]struct{}
	recorded     []string
	flagSet      bool
	flagConsumes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ap:    credstore.APIdentity{SSID: "Setup", Password: "letmein", Enabled: true},
		known: map[string]struct{}{},
	}
}

func (s *fakeStore) APIdentity() credstore.APIdentity { return s.ap }

func (s *fakeStore) LastKnown() (credstore.Credential, bool) {
	if s.last == nil {
		return credstore.Credential{}, false
	}
	return *s.last, true
}

func (s *fakeStore) KnownSSIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.known))
	for k := range s.known {
		out[k] = struct{}{}
	}
	return out
}

func (s *fakeStore) RecordConnected(ssid, password string) {
	s.recorded = append(s.recorded, ssid)
	s.known[ssid] = struct{}{}
}

func (s *fakeStore) ConsumeForceAP() bool {
	if !s.flagSet {
		return false
	}
	s.flagSet = false
	s.flagConsumes++
	return true
}

type fakeAP struct {
	running    bool
	startErr   error
	startCalls int
	stopCalls  int
}

func (a *fakeAP) Start(credstore.APIdentity) error {
	a.startCalls++
	if a.startErr != nil {
		return a.startErr
	}
	a.running = true
	return nil
}

func (a *fakeAP) Stop() {
	a.stopCalls++
	a.running = false
}

func (a *fakeAP) Running() bool { return a.running }

type fakeNotifier struct {
	apShown      int
	reconnecting int
	lastSSID     string
}

func (n *fakeNotifier) ShowAccessPoint(ssid, password string, showPassword bool) {
	n.apShown++
	n.lastSSID = ssid
}

func (n *fakeNotifier) ShowReconnecting() { n.reconnecting++ }

type harness struct {
	sup      *Supervisor
	clock    *fakeClock
	backend  *fakeBackend
	store    *fakeStore
	ap       *fakeAP
	notifier *fakeNotifier
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		backend:  newFakeBackend(),
		store:    newFakeStore(),
		ap:       &fakeAP{},
		notifier: &fakeNotifier{},
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.DisconnectThreshold == 0 {
		cfg.DisconnectThreshold = 120 * time.Second
	}
	if cfg.APRescanInterval == 0 {
		cfg.APRescanInterval = 60 * time.Second
	}
	if cfg.BootConnectTimeout == 0 {
		cfg.BootConnectTimeout = 60 * time.Second
	}
	h.sup = New(cfg, Deps{
		Backend:  h.backend,
		AP:       h.ap,
		Store:    h.store,
		Notifier: h.notifier,
		Clock:    h.clock,
		Log:      hclog.NewNullLogger(),
	})
	return h
}

// tickAfter advances the clock and runs one tick.
func (h *harness) tickAfter(d time.Duration) {
	h.clock.advance(d)
	h.sup.Tick(context.Background())
}

func waitJoin(t *testing.T, b *fakeBackend) string {
	t.Helper()
	select {
	case ssid := <-b.joined:
		return ssid
	case <-time.After(2 * time.Second):
		t.Fatal("no join attempt observed")
		return ""
	}
}

// waitJoinIdle blocks until the async join goroutine has fully retired,
// so a subsequent kick is not suppressed as overlapping.
func (h *harness) waitJoinIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.sup.joinBusy.Load() {
		if time.Now().After(deadline) {
			t.Fatal("join goroutine did not retire")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInitConnected(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setConnected(true, "Home")

	h.sup.Init(context.Background())

	if got := h.sup.State(); got != StateClientConnected {
		t.Fatalf("state = %s, want %s", got, StateClientConnected)
	}
	if len(h.store.recorded) == 0 || h.store.recorded[0] != "Home" {
		t.Errorf("recorded = %v, want [Home]", h.store.recorded)
	}
}

func TestInitNoLastKnown(t *testing.T) {
	h := newHarness(t, Config{})

	h.sup.Init(context.Background())

	if got := h.sup.State(); got != StateClientDisconnected {
		t.Fatalf("state = %s, want %s", got, StateClientDisconnected)
	}
	if h.sup.disconnectSince == nil {
		t.Error("disconnectSince should be set on disconnected init")
	}
}

func TestInitBootReconnectKicksJoin(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.last = &credstore.Credential{SSID: "Home", Password: "hunter2"}

	h.sup.Init(context.Background())

	if got := h.sup.State(); got != StateBootReconnect {
		t.Fatalf("state = %s, want %s", got, StateBootReconnect)
	}
	if h.sup.bootGraceDeadline == nil {
		t.Fatal("boot grace deadline should be set")
	}
	if ssid := waitJoin(t, h.backend); ssid != "Home" {
		t.Errorf("kick join ssid = %s, want Home", ssid)
	}
}

// Scenario: force-AP marker present at startup. The marker is consumed
// exactly once and the state is ApActive immediately.
func TestInitForceAPFlag(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.flagSet = true

	h.sup.Init(context.Background())

	if got := h.sup.State(); got != StateApActive {
		t.Fatalf("state = %s, want %s", got, StateApActive)
	}
	if h.store.flagConsumes != 1 {
		t.Errorf("flag consumed %d times, want 1", h.store.flagConsumes)
	}
	if h.store.ConsumeForceAP() {
		t.Error("flag should be cleared after consumption")
	}
	if !h.ap.running {
		t.Error("AP should be running")
	}
	if h.notifier.apShown != 1 || h.notifier.lastSSID != "Setup" {
		t.Errorf("notifier apShown=%d lastSSID=%s", h.notifier.apShown, h.notifier.lastSSID)
	}
}

// The flag is consumed even when the AP activation it forces fails.
func TestForceAPFlagConsumedOnStartFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.flagSet = true
	h.ap.startErr = errors.New("hostapd missing")

	h.sup.Init(context.Background())

	if got := h.sup.State(); got != StateClientDisconnected {
		t.Fatalf("state = %s, want %s", got, StateClientDisconnected)
	}
	if h.store.flagConsumes != 1 {
		t.Errorf("flag consumed %d times, want 1", h.store.flagConsumes)
	}
}

// Scenario 1: no saved network, WiFi never connects, threshold 120s.
// After >=120s of disconnection the state is ApActive.
func TestDisconnectThresholdEntersAP(t *testing.T) {
	h := newHarness(t, Config{DisconnectThreshold: 120 * time.Second})
	h.sup.Init(context.Background())

	// Three ticks inside the threshold: nothing happens.
	for i := 0; i < 3; i++ {
		h.tickAfter(30 * time.Second)
		if got := h.sup.State(); got != StateClientDisconnected {
			t.Fatalf("tick %d: state = %s, want %s", i, got, StateClientDisconnected)
		}
		if h.ap.startCalls != 0 {
			t.Fatalf("tick %d: AP started prematurely", i)
		}
	}

	// Fourth tick crosses 120s.
	h.tickAfter(30 * time.Second)
	if got := h.sup.State(); got != StateApActive {
		t.Fatalf("state = %s, want %s", got, StateApActive)
	}
	if !h.ap.running {
		t.Error("AP should be running")
	}
	if h.backend.isManaged() {
		t.Error("interface should be released from the client stack in AP mode")
	}
}

// Scenario 2: saved network, join succeeds inside the boot grace window.
// ApActive is never entered.
func TestBootGracePrecedence(t *testing.T) {
	h := newHarness(t, Config{BootConnectTimeout: 60 * time.Second})
	h.store.last = &credstore.Credential{SSID: "Home", Password: "hunter2"}
	h.sup.Init(context.Background())
	waitJoin(t, h.backend)

	// Simulated join success at t=20s.
	h.clock.advance(20 * time.Second)
	h.backend.setConnected(true, "Home")
	h.sup.Tick(context.Background())

	if got := h.sup.State(); got != StateClientConnected {
		t.Fatalf("state = %s, want %s", got, StateClientConnected)
	}
	if h.ap.startCalls != 0 {
		t.Error("ApActive must never be entered when boot reconnect succeeds")
	}
	if h.sup.bootGraceDeadline != nil {
		t.Error("grace deadline should be cleared")
	}
	if h.sup.disconnectSince != nil {
		t.Error("disconnectSince should be cleared")
	}
}

// Grace expiry evaluates the AP rule immediately instead of waiting
// out another full disconnect threshold.
func TestBootGraceExpiryEntersAP(t *testing.T) {
	h := newHarness(t, Config{
		BootConnectTimeout:  60 * time.Second,
		DisconnectThreshold: 120 * time.Second,
	})
	h.store.last = &credstore.Credential{SSID: "Home", Password: "hunter2"}
	h.sup.Init(context.Background())
	waitJoin(t, h.backend)

	h.tickAfter(70 * time.Second)

	if got := h.sup.State(); got != StateApActive {
		t.Fatalf("state = %s, want %s", got, StateApActive)
	}
}

// Every third tick inside the grace window re-issues a join attempt.
func TestBootGracePeriodicRejoin(t *testing.T) {
	h := newHarness(t, Config{BootConnectTimeout: 10 * time.Minute})
	h.store.last = &credstore.Credential{SSID: "Home", Password: "hunter2"}
	h.sup.Init(context.Background())
	waitJoin(t, h.backend) // the initial kick
	h.waitJoinIdle(t)

	h.tickAfter(30 * time.Second)
	h.tickAfter(30 * time.Second)
	h.tickAfter(30 * time.Second) // third tick: rejoin
	if ssid := waitJoin(t, h.backend); ssid != "Home" {
		t.Errorf("rejoin ssid = %s, want Home", ssid)
	}
	if got := h.sup.State(); got != StateBootReconnect {
		t.Fatalf("state = %s, want %s", got, StateBootReconnect)
	}
}

// Scenario 3: in ApActive, a configured SSID comes in range; the device
// returns to client mode within one rescan window.
func TestAPExitOnConfiguredNetwork(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.flagSet = true
	h.sup.Init(context.Background())
	if h.sup.State() != StateApActive {
		t.Fatal("setup: expected ApActive")
	}

	h.backend.mu.Lock()
	h.backend.scanMatch = true
	h.backend.connected = true
	h.backend.ssid = "Home"
	h.backend.mu.Unlock()
	h.store.known["Home"] = struct{}{}

	h.tickAfter(60 * time.Second)

	if got := h.sup.State(); got != StateClientConnected {
		t.Fatalf("state = %s, want %s", got, StateClientConnected)
	}
	if h.ap.stopCalls == 0 {
		t.Error("AP should have been stopped")
	}
	if h.ap.running {
		t.Error("AP must not be running in client mode")
	}
	if !h.backend.isManaged() {
		t.Error("interface should be handed back to the client stack")
	}
	if h.notifier.reconnecting == 0 {
		t.Error("notifier should have been told to leave the AP screen")
	}
}

// Staying in AP when no configured network is in range.
func TestAPStaysWithoutMatch(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.flagSet = true
	h.sup.Init(context.Background())
	h.store.known["Home"] = struct{}{}

	h.tickAfter(60 * time.Second)

	if got := h.sup.State(); got != StateApActive {
		t.Fatalf("state = %s, want %s", got, StateApActive)
	}
	if h.ap.stopCalls != 0 {
		t.Error("AP should not have been touched")
	}
}

// If connectivity does not come back after leaving AP mode, the AP is
// re-entered instead of thrashing between modes.
func TestAPExitFailureReentersAP(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.flagSet = true
	h.sup.Init(context.Background())

	h.backend.mu.Lock()
	h.backend.scanMatch = true
	h.backend.mu.Unlock()
	h.store.known["Home"] = struct{}{}

	h.tickAfter(60 * time.Second)

	if got := h.sup.State(); got != StateApActive {
		t.Fatalf("state = %s, want %s", got, StateApActive)
	}
	if !h.ap.running {
		t.Error("AP should be running again")
	}
}

// Scenario 5: AP start fails twice; the state stays ClientDisconnected
// with a backoff between attempts and the interface left usable.
func TestAPStartFailureBackoff(t *testing.T) {
	h := newHarness(t, Config{
		DisconnectThreshold: 120 * time.Second,
		APRetryBackoff:      30 * time.Second,
	})
	h.ap.startErr = errors.New("no hostapd")
	h.sup.Init(context.Background())

	h.tickAfter(120 * time.Second)
	if got := h.sup.State(); got != StateClientDisconnected {
		t.Fatalf("state = %s, want %s", got, StateClientDisconnected)
	}
	if h.ap.startCalls != 1 {
		t.Fatalf("startCalls = %d, want 1", h.ap.startCalls)
	}
	if !h.backend.isManaged() {
		t.Error("interface should be restored to the client stack after AP failure")
	}

	// Within the backoff window: no new attempt.
	h.tickAfter(10 * time.Second)
	if h.ap.startCalls != 1 {
		t.Fatalf("startCalls = %d during backoff, want 1", h.ap.startCalls)
	}

	// After the backoff: retried, fails again, still disconnected.
	h.tickAfter(30 * time.Second)
	if h.ap.startCalls != 2 {
		t.Fatalf("startCalls = %d, want 2", h.ap.startCalls)
	}
	if got := h.sup.State(); got != StateClientDisconnected {
		t.Fatalf("state = %s, want %s", got, StateClientDisconnected)
	}
}

// A connection recovered after the threshold has long elapsed must still
// be detected when the AP fallback is disabled.
func TestRecoveryPastThresholdWithFallbackDisabled(t *testing.T) {
	h := newHarness(t, Config{DisconnectThreshold: 120 * time.Second})
	h.store.ap.Enabled = false
	h.sup.Init(context.Background())

	// Well past the threshold, still down.
	h.tickAfter(150 * time.Second)
	if got := h.sup.State(); got != StateClientDisconnected {
		t.Fatalf("state = %s, want %s", got, StateClientDisconnected)
	}

	h.backend.setConnected(true, "Home")
	h.tickAfter(30 * time.Second)

	if got := h.sup.State(); got != StateClientConnected {
		t.Fatalf("state = %s, want %s", got, StateClientConnected)
	}
	if len(h.store.recorded) == 0 || h.store.recorded[len(h.store.recorded)-1] != "Home" {
		t.Errorf("recorded = %v, want Home appended", h.store.recorded)
	}
}

// A connection recovered during the AP retry backoff must not be torn
// down by a later AP attempt.
func TestRecoveryDuringAPRetryBackoff(t *testing.T) {
	h := newHarness(t, Config{
		DisconnectThreshold: 120 * time.Second,
		APRetryBackoff:      30 * time.Second,
	})
	h.ap.startErr = errors.New("no hostapd")
	h.sup.Init(context.Background())

	h.tickAfter(120 * time.Second)
	if h.ap.startCalls != 1 {
		t.Fatalf("startCalls = %d, want 1", h.ap.startCalls)
	}

	// The network comes back while the backoff is pending.
	h.backend.setConnected(true, "Home")
	h.tickAfter(40 * time.Second)

	if got := h.sup.State(); got != StateClientConnected {
		t.Fatalf("state = %s, want %s", got, StateClientConnected)
	}
	if h.ap.startCalls != 1 {
		t.Errorf("startCalls = %d after recovery, want 1", h.ap.startCalls)
	}
}

// AP fallback never fires when disabled in the device config.
func TestAPFallbackDisabled(t *testing.T) {
	h := newHarness(t, Config{DisconnectThreshold: 120 * time.Second})
	h.store.ap.Enabled = false
	h.sup.Init(context.Background())

	h.tickAfter(300 * time.Second)

	if got := h.sup.State(); got != StateClientDisconnected {
		t.Fatalf("state = %s, want %s", got, StateClientDisconnected)
	}
	if h.ap.startCalls != 0 {
		t.Error("AP must not start when fallback is disabled")
	}
}

// A stale force-ap flag is cleared while happily connected.
func TestStaleFlagClearedWhileConnected(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setConnected(true, "Home")
	h.sup.Init(context.Background())

	h.store.flagSet = true
	h.tickAfter(30 * time.Second)

	if got := h.sup.State(); got != StateClientConnected {
		t.Fatalf("state = %s, want %s", got, StateClientConnected)
	}
	if h.store.flagConsumes != 1 {
		t.Errorf("flag consumed %d times, want 1", h.store.flagConsumes)
	}
}

// Losing connectivity moves to ClientDisconnected and starts the timer.
func TestConnectionLossStartsTimer(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setConnected(true, "Home")
	h.sup.Init(context.Background())

	h.backend.setConnected(false, "")
	h.tickAfter(30 * time.Second)

	if got := h.sup.State(); got != StateClientDisconnected {
		t.Fatalf("state = %s, want %s", got, StateClientDisconnected)
	}
	if h.sup.disconnectSince == nil {
		t.Fatal("disconnectSince should be set")
	}
	if !h.sup.disconnectSince.Equal(h.clock.Now()) {
		t.Errorf("disconnectSince = %v, want %v", h.sup.disconnectSince, h.clock.Now())
	}
}

// Mutual exclusion: the timers and mode flags always agree with the
// state invariants while walking a full disconnect-AP-reconnect cycle.
func TestStateInvariants(t *testing.T) {
	h := newHarness(t, Config{DisconnectThreshold: 60 * time.Second})
	h.backend.setConnected(true, "Home")
	h.sup.Init(context.Background())

	check := func(step string) {
		t.Helper()
		st := h.sup.State()
		disconnected := st == StateClientDisconnected || st == StateBootReconnect
		if disconnected != (h.sup.disconnectSince != nil) {
			t.Errorf("%s: disconnectSince set=%v in state %s", step, h.sup.disconnectSince != nil, st)
		}
		if st == StateApActive && h.backend.isManaged() {
			t.Errorf("%s: client stack owns interface while AP active", step)
		}
		if st != StateApActive && h.ap.running {
			t.Errorf("%s: AP running outside ApActive", step)
		}
	}

	check("connected")

	h.backend.setConnected(false, "")
	h.tickAfter(30 * time.Second)
	check("disconnected")

	h.tickAfter(60 * time.Second)
	if h.sup.State() != StateApActive {
		t.Fatal("expected ApActive")
	}
	check("ap")

	h.backend.mu.Lock()
	h.backend.scanMatch = true
	h.backend.connected = true
	h.backend.ssid = "Home"
	h.backend.mu.Unlock()
	h.tickAfter(60 * time.Second)
	if h.sup.State() != StateClientConnected {
		t.Fatal("expected ClientConnected")
	}
	check("reconnected")
}

// Shutdown in AP state makes one best-effort client restore.
func TestShutdownRestoresClientMode(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.flagSet = true
	h.sup.Init(context.Background())
	if h.sup.State() != StateApActive {
		t.Fatal("setup: expected ApActive")
	}

	if err := h.sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if h.ap.running {
		t.Error("AP should be stopped on shutdown")
	}
	if !h.backend.isManaged() {
		t.Error("interface should be handed back on shutdown")
	}
}

// blockingBackend parks every probe until released, pinning the tick
// loop mid-tick.
type blockingBackend struct {
	*fakeBackend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBackend) ProbeConnected(ctx context.Context) backend.ProbeResult {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.fakeBackend.ProbeConnected(ctx)
}

// Shutdown must not touch the interface while a tick is still in flight;
// it waits for the loop to exit, bounded by its context.
func TestShutdownWaitsForTickLoop(t *testing.T) {
	h := newHarness(t, Config{})
	bb := &blockingBackend{
		fakeBackend: h.backend,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	h.sup.backend = bb

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = h.sup.Run(ctx)
	}()

	<-bb.entered
	cancel()

	// The loop is parked inside a probe; a bounded Shutdown gives up
	// instead of racing it.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if err := h.sup.Shutdown(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() = %v, want deadline exceeded while the loop runs", err)
	}

	close(bb.release)
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after cancellation")
	}
	if err := h.sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() after loop exit = %v", err)
	}
}

// Shutdown outside AP state touches nothing.
func TestShutdownNoopWhenClient(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setConnected(true, "Home")
	h.sup.Init(context.Background())

	if err := h.sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if h.ap.stopCalls != 0 {
		t.Error("AP stop should not be called in client mode")
	}
}

// A panicking collaborator must not kill the loop.
func TestTickPanicRecovered(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setConnected(true, "Home")
	h.sup.Init(context.Background())

	h.sup.store = panicStore{h.store}
	h.sup.safeTick(context.Background())
	// Reaching this point is the assertion.
}

type panicStore struct{ Store }

func (panicStore) RecordConnected(string, string) { panic("boom") }
