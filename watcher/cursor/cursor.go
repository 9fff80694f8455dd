// Package cursor tracks the scan position of one network: the last parsed block, a trailing window of block
// hashes used to detect chain reorganizations, and the set of watched organization wallets.
package cursor

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openimpact/dtrack/lib/registry"
	"github.com/openimpact/dtrack/lib/store"
	"github.com/openimpact/dtrack/lib/util"
)

// Status possible values, control whether a Cursor is working or is/has to stop
const (
	WORK int = 0
	STOP int = 1
)

// Cursor contains the fields and data structures required to manage the scanning of a network.
type Cursor struct {
	l      sync.Mutex // guards concurrent updates of the watch map
	status int
	Block  uint64                 // last block parsed
	Hashes []string               // the last block hashes (from Block-1 to Block-maxBlocks)
	Idx    int                    // index to last block's hash in Hashes
	Map    map[string]interface{} // watched organization wallets to their labels
}

// New loads the saved scan position for the network, or starts from block 0 when none exists, and seeds the watch
// map from the stored watches.
func New(net string, max int, watches []store.WatchedOrgs, db store.DB) (*Cursor, error) {
	var cur Cursor

	s, err := db.LoadCursor(net)
	if err != nil {
		if err != store.ErrDataNotFound {
			return nil, err
		}
		// no cursor in DB yet, scan from block 0
		cur.Block = 0
		cur.Idx = 0
		cur.Hashes = make([]string, max)
		cur.status = WORK
	} else {
		cur.FromStore(s)
	}

	cur.Map = make(map[string]interface{})

	if len(watches) == 1 {
		for _, w := range watches[0].Orgs {
			cur.Map[util.LowerAddr(w.Wallet)] = w.Label
		}
	}

	log.Debug().Str("net", net).Uint64("block", cur.Block).Int("watched", len(cur.Map)).Msg("cursor loaded")

	return &cur, nil
}

// ScanEvents keeps the events that involve a watched organization wallet. Events that carry no wallet, such as
// proof attachments, pass through unfiltered.
func (c *Cursor) ScanEvents(evs []registry.Event) []registry.Event {
	r := make([]registry.Event, 0, 4)

	c.l.Lock()
	defer c.l.Unlock()

	for _, ev := range evs {
		if ev.NGO == "" {
			r = append(r, ev)
			continue
		}

		if _, ok := c.Map[util.LowerAddr(ev.NGO)]; ok {
			r = append(r, ev)
		}
	}

	return r
}

// Chained checks if the supplied hash is the last block's hash
func (c *Cursor) Chained(hash string) bool {
	c.l.Lock()
	defer c.l.Unlock()
	return c.Hashes[c.Idx] == hash || c.Hashes[c.Idx] == ""
}

// UpdateChain updates Cursor fields with new block hash
func (c *Cursor) UpdateChain(hash string, maxBlocks int) {
	c.l.Lock()
	defer c.l.Unlock()
	c.Block++
	c.Idx++
	c.Idx %= maxBlocks
	c.Hashes[c.Idx] = hash
}

// Add adds an organization wallet and its label to the watch map
func (c *Cursor) Add(wallet string, value interface{}) {
	c.l.Lock()
	defer c.l.Unlock()
	c.Map[util.LowerAddr(wallet)] = value
}

// Del deletes a watched organization wallet from the map returning its value and an ok flag.
func (c *Cursor) Del(wallet string) (value interface{}, ok bool) {
	c.l.Lock()
	defer c.l.Unlock()
	wallet = util.LowerAddr(wallet)
	value, ok = c.Map[wallet]
	delete(c.Map, wallet)
	return
}

// Watched returns the number of watched organization wallets.
func (c *Cursor) Watched() int {
	c.l.Lock()
	defer c.l.Unlock()
	return len(c.Map)
}

// ToStore returns a store.Cursor struct to be saved to store
func (c *Cursor) ToStore() store.Cursor {
	return store.Cursor{
		Block:  c.Block,
		Hashes: c.Hashes,
		Idx:    c.Idx,
		Orgs:   c.Map,
	}
}

// FromStore loads the Cursor with the values read from store
func (c *Cursor) FromStore(s store.Cursor) {
	c.Block = s.Block
	c.Hashes = s.Hashes
	c.Idx = s.Idx
	c.Map = s.Orgs
}

// Stop sets status to STOP
func (c *Cursor) Stop() {
	c.l.Lock()
	c.status = STOP
	c.l.Unlock()
}

// Start sets status to WORK
func (c *Cursor) Start() {
	c.l.Lock()
	c.status = WORK
	c.l.Unlock()
}

// Status returns the current Cursor status
func (c *Cursor) Status() int {
	c.l.Lock()
	defer c.l.Unlock()
	return c.status
}
