// Package credstore persists the access point identity, the last joined
// network and the catalog of previously seen networks. It wraps the
// appliance-wide device config JSON, which is also edited by the web
// configuration UI; fields this daemon does not understand are preserved
// byte-for-byte across writes.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Resource field names inside the device config JSON.
const (
	keyAPSSID            = "ap_ssid"
	keyAPPassword        = "ap_password"
	keyAPFallbackEnabled = "ap_fallback_enabled"
	keyLastSSID          = "last_wifi_ssid"
	keyLastPassword      = "last_wifi_password"
	keyKnownWifis        = "known_wifis"
)

// APIdentity describes the self-hosted access point. An empty password
// means an open network, which is valid.
type APIdentity struct {
	SSID     string
	Password string
	Enabled  bool
}

// Credential is one remembered network.
type Credential struct {
	SSID            string
	Password        string
	LastConnectedAt time.Time
	LastSeenAt      time.Time
}

// knownEntry is the wire form of a known_wifis value.
type knownEntry struct {
	Password      string    `json:"password"`
	LastConnected time.Time `json:"last_connected"`
	LastSeen      time.Time `json:"last_seen"`
}

// snapshot is the parsed view of the fields this daemon consumes.
type snapshot struct {
	ap        APIdentity
	lastSSID  string
	lastPass  string
	known     map[string]knownEntry
	rawFields map[string]json.RawMessage
}

// Store reads and writes the device config resource. All operations are
// best-effort: a failed write is logged and does not abort the caller.
type Store struct {
	path  string
	flag  FlagSource
	log   hclog.Logger
	clock func() time.Time

	mu   sync.Mutex
	snap snapshot
	// loaded tracks whether snap holds real file contents, so read
	// failures can fall back to the last good in-memory view.
	loaded bool
}

// Option configures a Store.
type Option func(*Store)

// WithFlagSource overrides the force-AP flag source.
func WithFlagSource(f FlagSource) Option {
	return func(s *Store) { s.flag = f }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// New creates a Store over the device config at path. The force-AP flag
// defaults to a sentinel file at flagPath. The initial read happens here;
// a missing or unreadable file yields safe defaults (AP fallback disabled,
// no last-known network).
func New(path, flagPath string, log hclog.Logger, opts ...Option) *Store {
	s := &Store{
		path:  path,
		flag:  &fileFlag{path: flagPath},
		log:   log.Named("credstore"),
		clock: time.Now,
		snap:  emptySnapshot(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		s.log.Warn("initial device config read failed, using defaults", "path", path, "error", err)
	}
	return s
}

func emptySnapshot() snapshot {
	return snapshot{
		known:     map[string]knownEntry{},
		rawFields: map[string]json.RawMessage{},
	}
}

// Reload re-reads the device config from disk. On parse failure the
// previous in-memory snapshot is kept.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read device config: %w", err)
	}

	snap, err := parseSnapshot(data)
	if err != nil {
		return fmt.Errorf("parse device config: %w", err)
	}

	s.mu.Lock()
	s.snap = snap
	s.loaded = true
	s.mu.Unlock()
	return nil
}

func parseSnapshot(data []byte) (snapshot, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return snapshot{}, err
	}

	snap := snapshot{known: map[string]knownEntry{}, rawFields: raw}

	getString := func(key string) string {
		var v string
		if r, ok := raw[key]; ok {
			_ = json.Unmarshal(r, &v)
		}
		return v
	}

	snap.ap.SSID = getString(keyAPSSID)
	snap.ap.Password = getString(keyAPPassword)
	if r, ok := raw[keyAPFallbackEnabled]; ok {
		_ = json.Unmarshal(r, &snap.ap.Enabled)
	}
	snap.lastSSID = getString(keyLastSSID)
	snap.lastPass = getString(keyLastPassword)
	if r, ok := raw[keyKnownWifis]; ok {
		_ = json.Unmarshal(r, &snap.known)
	}

	return snap, nil
}

// APIdentity returns the configured access point identity.
func (s *Store) APIdentity() APIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ap
}

// LastKnown returns the distinguished last successfully joined network,
// or false if none is recorded.
func (s *Store) LastKnown() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.lastSSID == "" {
		return Credential{}, false
	}
	cred := Credential{SSID: s.snap.lastSSID, Password: s.snap.lastPass}
	if e, ok := s.snap.known[s.snap.lastSSID]; ok {
		cred.LastConnectedAt = e.LastConnected
		cred.LastSeenAt = e.LastSeen
	}
	return cred, true
}

// KnownSSIDs returns the set of SSIDs with stored credentials.
func (s *Store) KnownSSIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.snap.known)+1)
	for ssid := range s.snap.known {
		out[ssid] = struct{}{}
	}
	if s.snap.lastSSID != "" {
		out[s.snap.lastSSID] = struct{}{}
	}
	return out
}

// KnownNetwork returns the stored entry for ssid, if any.
func (s *Store) KnownNetwork(ssid string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.snap.known[ssid]
	if !ok {
		return Credential{}, false
	}
	return Credential{
		SSID:            ssid,
		Password:        e.Password,
		LastConnectedAt: e.LastConnected,
		LastSeenAt:      e.LastSeen,
	}, true
}

// RecordConnected upserts the known-network entry for ssid, refreshing
// its freshness stamps, and updates the last-known network. A stored
// password is never overwritten with an empty one. The write is
// best-effort.
func (s *Store) RecordConnected(ssid, password string) {
	if ssid == "" {
		return
	}
	now := s.clock()

	s.mu.Lock()
	entry := s.snap.known[ssid]
	if password != "" {
		entry.Password = password
	}
	entry.LastConnected = now
	entry.LastSeen = now
	s.snap.known[ssid] = entry

	s.snap.lastSSID = ssid
	if password != "" {
		s.snap.lastPass = password
	} else if entry.Password != "" {
		s.snap.lastPass = entry.Password
	}

	err := s.writeLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("device config write failed", "ssid", ssid, "error", err)
	}
}

// writeLocked flushes the snapshot back into the raw envelope and writes
// the file atomically via a temp file rename. Caller holds s.mu.
func (s *Store) writeLocked() error {
	mustRaw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}

	s.snap.rawFields[keyAPSSID] = mustRaw(s.snap.ap.SSID)
	s.snap.rawFields[keyAPPassword] = mustRaw(s.snap.ap.Password)
	s.snap.rawFields[keyAPFallbackEnabled] = mustRaw(s.snap.ap.Enabled)
	s.snap.rawFields[keyLastSSID] = mustRaw(s.snap.lastSSID)
	s.snap.rawFields[keyLastPassword] = mustRaw(s.snap.lastPass)
	s.snap.rawFields[keyKnownWifis] = mustRaw(s.snap.known)

	data, err := json.MarshalIndent(s.snap.rawFields, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// ConsumeForceAP atomically reports and clears the force-AP flag. Safe to
// call every tick; a no-op when the flag is absent. The flag is cleared
// regardless of whether the AP activation that follows succeeds.
func (s *Store) ConsumeForceAP() bool {
	set, err := s.flag.Consume()
	if err != nil {
		s.log.Warn("force-ap flag check failed", "error", err)
		return false
	}
	if set {
		s.log.Info("force-ap flag consumed")
	}
	return set
}
