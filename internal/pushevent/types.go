package pushevent

import "encoding/json"

// Kind identifies a push event the wallet process may send
type Kind int

const (
	KindUnknown Kind = iota
	KindConnect
	KindDisconnect
	KindUnlock
	KindLock
	KindAccountsChanged
	KindChainChanged
	KindDefaultWalletChanged
)

var kindNames = map[Kind]string{
	KindConnect:              "connect",
	KindDisconnect:           "disconnect",
	KindUnlock:               "unlock",
	KindLock:                 "lock",
	KindAccountsChanged:      "accountsChanged",
	KindChainChanged:         "chainChanged",
	KindDefaultWalletChanged: "defaultWalletChanged",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ParseKind maps an event name to its Kind. Unrecognized names are KindUnknown.
func ParseKind(name string) Kind {
	return kindsByName[name]
}

// String returns the wire name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one push notification as received from the wallet
type Event struct {
	Name string
	Data json.RawMessage
}

// Kind returns the event's kind
func (e Event) Kind() Kind {
	return ParseKind(e.Name)
}

// ConnectInfo is the payload of a connect event
type ConnectInfo struct {
	ChainID string `json:"chainId,omitempty"`
}

// ChainChange is the payload of a chainChanged event
type ChainChange struct {
	Chain          string `json:"chain"`
	NetworkVersion string `json:"networkVersion"`
}

// Handlers receives decoded push events. Implementations own every effect an
// event has on session state and on application listeners.
type Handlers interface {
	Connect(info ConnectInfo)
	Disconnect()
	Unlock()
	Lock()
	AccountsChanged(accounts []string)
	ChainChanged(change ChainChange)
	DefaultWalletChanged(isDefault bool)
	// Forward handles events with no dedicated handler
	Forward(name string, data json.RawMessage)
}
