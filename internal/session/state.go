package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
)

// Snapshot is a copy of the session record. Empty strings and nil slices
// stand for "unknown".
type Snapshot struct {
	ChainID                 string
	NetworkVersion          string
	SelectedAddress         string
	Accounts                []string
	IsConnected             bool
	IsUnlocked              bool
	Initialized             bool
	PermanentlyDisconnected bool
}

// State is the session record shared by a provider and its push handlers.
// Reads are safe at any time; values read before Initialized is true are
// defaults.
type State struct {
	snap Snapshot
	feed event.FeedOf[Snapshot]
	mu   sync.RWMutex
}

// NewState creates a State with every field at its default
func NewState() *State {
	return &State{}
}

// Snapshot returns a copy of the current record
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Subscribe delivers a snapshot after every committed change. Delivery
// blocks the mutating goroutine until every subscriber has received, so
// subscribers must keep their channel drained.
func (s *State) Subscribe(ch chan<- Snapshot) event.Subscription {
	return s.feed.Subscribe(ch)
}

// ChainID returns the current chain id or ""
func (s *State) ChainID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.ChainID
}

// SelectedAddress returns the current account or ""
func (s *State) SelectedAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.SelectedAddress
}

// SetConnected records connectivity. Returns true if the value changed.
func (s *State) SetConnected(connected bool) bool {
	return s.update(func(snap *Snapshot) bool {
		if snap.IsConnected == connected {
			return false
		}
		snap.IsConnected = connected
		return true
	})
}

// SetUnlocked records the wallet lock state. Returns true if the value changed.
func (s *State) SetUnlocked(unlocked bool) bool {
	return s.update(func(snap *Snapshot) bool {
		if snap.IsUnlocked == unlocked {
			return false
		}
		snap.IsUnlocked = unlocked
		return true
	})
}

// SetChain records the chain id, normalized to minimal 0x-hex. Returns true
// if the chain changed.
func (s *State) SetChain(chainID string) (bool, error) {
	normalized, err := NormalizeChainID(chainID)
	if err != nil {
		return false, err
	}
	return s.update(func(snap *Snapshot) bool {
		if snap.ChainID == normalized {
			return false
		}
		snap.ChainID = normalized
		return true
	}), nil
}

// SetNetworkVersion records the legacy network id. Returns true if it changed.
func (s *State) SetNetworkVersion(version string) bool {
	return s.update(func(snap *Snapshot) bool {
		if snap.NetworkVersion == version {
			return false
		}
		snap.NetworkVersion = version
		return true
	})
}

// SetAccounts records the account list. The selected address is the first
// account. Returns true only if the selected address changed.
func (s *State) SetAccounts(accounts []string) (bool, error) {
	normalized, err := NormalizeAccounts(accounts)
	if err != nil {
		return false, err
	}
	selected := ""
	if len(normalized) > 0 {
		selected = normalized[0]
	}
	return s.update(func(snap *Snapshot) bool {
		if snap.SelectedAddress == selected {
			return false
		}
		snap.SelectedAddress = selected
		snap.Accounts = normalized
		return true
	}), nil
}

// Disconnect clears connectivity and accounts
func (s *State) Disconnect() {
	s.update(func(snap *Snapshot) bool {
		snap.IsConnected = false
		snap.Accounts = nil
		snap.SelectedAddress = ""
		return true
	})
}

// MarkPermanentlyDisconnected flags that the wallet will not reconnect
func (s *State) MarkPermanentlyDisconnected() {
	s.update(func(snap *Snapshot) bool {
		if snap.PermanentlyDisconnected {
			return false
		}
		snap.PermanentlyDisconnected = true
		return true
	})
}

// MarkInitialized flags the end of the startup query, successful or not.
// Returns false if already initialized.
func (s *State) MarkInitialized() bool {
	return s.update(func(snap *Snapshot) bool {
		if snap.Initialized {
			return false
		}
		snap.Initialized = true
		return true
	})
}

// update applies fn under the lock and publishes the result if fn reports a change
func (s *State) update(fn func(*Snapshot) bool) bool {
	s.mu.Lock()
	changed := fn(&s.snap)
	snap := s.snap.clone()
	s.mu.Unlock()

	if changed {
		s.feed.Send(snap)
	}
	return changed
}

func (snap Snapshot) clone() Snapshot {
	if snap.Accounts != nil {
		snap.Accounts = append([]string(nil), snap.Accounts...)
	}
	return snap
}

// NormalizeChainID parses a 0x-hex chain id and re-encodes it without
// leading zeros. Padded ids such as 0x01 are accepted.
func NormalizeChainID(chainID string) (string, error) {
	lower := strings.ToLower(chainID)
	if digits, ok := strings.CutPrefix(lower, "0x"); ok && len(digits) > 1 {
		if trimmed := strings.TrimLeft(digits, "0"); trimmed != "" {
			lower = "0x" + trimmed
		} else {
			lower = "0x0"
		}
	}
	n, err := hexutil.DecodeBig(lower)
	if err != nil {
		return "", fmt.Errorf("invalid chain id %q: %w", chainID, err)
	}
	return hexutil.EncodeBig(n), nil
}

// NormalizeAccounts validates addresses and lower-cases them. A nil or empty
// input yields nil.
func NormalizeAccounts(accounts []string) ([]string, error) {
	if len(accounts) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("invalid account %q", a)
		}
		out = append(out, strings.ToLower(common.HexToAddress(a).Hex()))
	}
	return out, nil
}
