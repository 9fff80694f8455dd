// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"

	"github.com/openimpact/dtrack/lib/registry"
)

// Actions to be applied to watch requests.
const (
	EXIT     = -1
	LISTEN   = 0
	UNLISTEN = 1
)

// WatchReq defines the message that the tracker service publishes to the watcher to start or stop watching an
// organization wallet.
type WatchReq struct {
	Net    string `json:"net"`
	Wallet string `json:"wallet"`
	Label  string `json:"label"`
	Act    int    `json:"act"` // action to be applied
}

// Event is a decoded contract event tagged with the network it was observed on.
type Event struct {
	Net string `json:"net"`
	registry.Event
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for tracker service
	SendWatchReq(net string, r WatchReq) error
	GetEvents(net string, mut *sync.Mutex) (<-chan Event, <-chan error, error)

	// methods for watcher service
	GetWatchReqs(net string, mut *sync.Mutex) (<-chan WatchReq, <-chan error, error)
	SendEvents(net string, evs []Event) error
}
