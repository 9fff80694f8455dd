// Package watcher implements the chain watcher microservice. The watcher scans contract events in each network's
// mined blocks and publishes them to the message broker when a watched organization is involved.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openimpact/dtrack/lib/chain"
	"github.com/openimpact/dtrack/lib/chain/types"
	"github.com/openimpact/dtrack/lib/msg"
	"github.com/openimpact/dtrack/lib/registry"
	"github.com/openimpact/dtrack/lib/store"
	"github.com/openimpact/dtrack/watcher/cursor"
)

const (
	// maxBlocks is the size of the trailing hash window kept per network to detect reorganizations.
	maxBlocks = 40
	// blockWait is how long to wait when the head of the chain has been reached.
	blockWait = 4 * time.Second
)

// Watcher implements a watcher service.
type Watcher struct {
	dbtype   string
	db       store.DB
	bc       map[string]chain.Chain // map of blockchain clients
	contract string                 // registry contract address
	cm       map[string]*cursor.Cursor
	mb       msg.MsgBroker
	log      zerolog.Logger
}

// New instantiates a new watcher service.
func New(dbtype string, db store.DB, mb msg.MsgBroker, bc map[string]chain.Chain, contract string, lg zerolog.Logger) *Watcher {
	return &Watcher{
		dbtype:   dbtype,
		db:       db,
		bc:       bc,
		contract: contract,
		cm:       make(map[string]*cursor.Cursor),
		mb:       mb,
		log:      lg,
	}
}

// Watch starts a go routine for each network available. The scanning of each network is controlled by a Cursor
// (see package watcher/cursor for details) holding the watched organization wallets and the scanned block window.
// The watcher consumes tracker requests to watch new organizations. In case of graceful termination, the watcher
// will wait for all the blocks being scanned to finish and send the pending events if any.
func (w *Watcher) Watch() chan string {
	ret := make(chan string, 1)
	// channel to wait for chain watchers
	done := make(chan string, len(w.bc))

	for net := range w.bc {
		// get watched organizations from DB
		watches, err := w.db.GetWatches([]string{net})
		if err != nil {
			w.log.Error().Str("net", net).Err(err).Msg("cannot load watched organizations from DB")

			continue
		}

		if len(watches) == 0 || len(watches[0].Orgs) == 0 {
			w.log.Info().Str("net", net).Msg("no watched organizations in DB")
		}

		if w.cm[net], err = cursor.New(net, maxBlocks, watches, w.db); err != nil {
			w.log.Error().Str("net", net).Err(err).Msg("cannot build scan cursor")

			continue
		}
		// listen for watch requests, if there are pending requests in the broker queues, they will be processed
		// to DB so the cursor starts with all the data loaded
		if err = w.ManageWatchRequests(net); err != nil {
			w.log.Error().Str("net", net).Err(err).Msg("cannot consume watch requests from broker")

			continue
		}
		// scan
		w.WatchChain(net, done)
	}
	// routine to wait for all chains to complete scanning...
	go func() {
		for i := 1; i < len(w.bc)+1; i++ {
			w.log.Info().Str("status", <-done).Int("done", i).Int("total", len(w.bc)).Msg("chain watcher returned")
		}
		ret <- "Done!"
	}()

	return ret
}

// StopWatcher will send termination signals to all network watcher go routines.
func (w *Watcher) StopWatcher() {
	for _, cur := range w.cm {
		cur.Stop()
	}
}

// WatchChain starts a network watcher go routine for the blockchain named 'net'. When the routine ends, returns
// its error status via the 'ret' channel given so the calling routine can control graceful termination. When a
// network does not have any watched organizations, the watcher will keep waiting and will not scan any mined
// blocks.
func (w *Watcher) WatchChain(net string, ret chan string) {
	cur := w.cm[net]

	w.log.Info().Str("net", net).Uint64("block", cur.Block).Msg("watching chain")

	go func() {
		var err error

		c := w.bc[net]
		ctx := context.Background()

		defer func() {
			// save Cursor to DB
			errSave := w.db.SaveCursor(net, cur.ToStore())
			// write into channel
			ret <- "[" + net + "] Done!" + fmt.Sprintf(" err:%v", err) + fmt.Sprintf(" err2:%v", errSave)
		}()

		for cur.Status() == cursor.WORK {
			if cur.Watched() == 0 {
				// wait until there is something to watch for
				w.log.Debug().Str("net", net).Msg("waiting for something to watch")
				time.Sleep(blockWait)

				continue
			}

			time.Sleep(1 * time.Second) // limit rate at max. 1 block per second!

			var hdr types.Header

			if hdr, err = c.Header(ctx, cur.Block+1); err != nil {
				if errors.Is(err, types.ErrNoBlock) {
					// lets wait for a new block to be mined
					err = nil
					time.Sleep(blockWait)

					continue
				}

				w.log.Error().Str("net", net).Err(err).Msg("cannot get block header")
				cur.Stop()

				return
			}

			w.log.Debug().Str("net", net).Uint64("block", cur.Block+1).Str("hash", hdr.Hash).Msg("parsing block")
			// check block is chained
			if !cur.Chained(hdr.PHash) {
				w.log.Error().Str("net", net).Uint64("block", cur.Block+1).Msg("block is not chained, reorganization detected")
				cur.Stop()

				return
			}

			// fetch and decode the block's contract logs
			var logs []types.Log

			if logs, err = c.Logs(ctx, w.contract, cur.Block+1, cur.Block+1); err != nil {
				w.log.Error().Str("net", net).Err(err).Msg("cannot get contract logs")
				cur.Stop()

				return
			}

			evs := make([]registry.Event, 0, len(logs))

			for _, lg := range logs {
				if ev, ok := registry.ParseEvent(lg); ok {
					evs = append(evs, ev)
				}
			}

			// sync'ed - store hash and update other data
			cur.UpdateChain(hdr.Hash, maxBlocks)
			// keep events involving watched organizations
			r := cur.ScanEvents(evs)
			// send events
			if len(r) > 0 {
				out := make([]msg.Event, len(r))
				for i, ev := range r {
					out[i] = msg.Event{Net: net, Event: ev}
				}

				err = w.mb.SendEvents(net, out)
				w.log.Info().Str("net", net).Int("events", len(out)).Err(err).Msg("sending events")
			}
			// save cursor status to DB
			if errSave := w.db.SaveCursor(net, cur.ToStore()); errSave != nil {
				w.log.Error().Str("net", net).Err(errSave).Msg("error saving cursor to DB")

				break
			}
		}
	}()
}

// ManageWatchRequests starts a go routine to receive and manage tracker requests for organization wallets to be
// watched for the blockchain named 'net'.
func (w *Watcher) ManageWatchRequests(net string) error {
	mut := new(sync.Mutex)

	mut.Lock()

	reqCh, errCh, err := w.mb.GetWatchReqs(net, mut)
	if err != nil {
		return fmt.Errorf("watcher: cannot get requests: %w", err)
	}

	cur := w.cm[net]

	// launch request channel reader
	go func() {
		w.log.Info().Str("net", net).Msg("start listening to watch request channel")

		for {
			select {
			case req, ok := (<-reqCh):
				if !ok {
					w.log.Info().Str("net", net).Msg("stop listening to watch request channel")

					return
				}

				w.log.Debug().Str("net", net).Str("wallet", req.Wallet).Int("act", req.Act).Msg("received watch request")
				// validate request
				if req.Net != net || len(req.Wallet) == 0 || (req.Act != msg.LISTEN && req.Act != msg.UNLISTEN) {
					w.log.Warn().Str("net", net).Str("reqNet", req.Net).Str("wallet", req.Wallet).Int("act", req.Act).
						Msg("watch request has wrong net, missing wallet or wrong action")
				}

				wt := store.Watch{Wallet: req.Wallet, Label: req.Label}

				if req.Act == msg.LISTEN {
					// save it to DB
					if _, err := w.db.AddWatch(wt, net); err != nil {
						w.log.Error().Str("net", net).Err(err).Msg("error adding watch to DB")
					}
					// include it in the cursor
					cur.Add(req.Wallet, req.Label)
				} else if req.Act == msg.UNLISTEN {
					// delete from the cursor
					if _, ok := cur.Del(req.Wallet); !ok {
						w.log.Warn().Str("net", net).Str("wallet", req.Wallet).Msg("watch not found in cursor, ignoring")
					}
					// delete from DB
					if err := w.db.RemoveWatch(wt, net); err != nil {
						w.log.Error().Str("net", net).Err(err).Msg("error deleting watch from DB")
					}
				}

				mut.Unlock()
			case err, ok := (<-errCh):
				if !ok {
					w.log.Info().Str("net", net).Msg("stop listening to broker error channel")

					return
				}

				w.log.Error().Str("net", net).Err(err).Msg("received broker error")
			}
		}
	}()

	return nil
}
