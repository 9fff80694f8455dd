// Package tracker implements the donation tracker microservice.
//
// This microservice implements a RESTful API for clients to establish a wallet session and read and write the
// donation registry contract, with search and pagination over the registry collections.
package tracker

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openimpact/dtrack/lib/chain"
	"github.com/openimpact/dtrack/lib/msg"
	"github.com/openimpact/dtrack/lib/registry"
	"github.com/openimpact/dtrack/lib/store"
	"github.com/openimpact/dtrack/lib/store/db"
)

// Tracker contains the data necessary to deliver the service
type Tracker struct {
	dbtype string
	db     store.DB               // db connection
	bc     map[string]chain.Chain // blockchain clients
	conn   *chain.Connector       // wallet session connector
	reg    *registry.Registry     // donation registry contract client
	mb     msg.MsgBroker
	log    zerolog.Logger
	s      *http.Server  // http server
	ss     *http.Server  // https server
	sc     chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Tracker service
func New(dbtype string, dbConn store.DB, mb msg.MsgBroker, bc map[string]chain.Chain, conn *chain.Connector, reg *registry.Registry, lg zerolog.Logger) *Tracker {
	return &Tracker{
		dbtype: dbtype,
		db:     dbConn,
		mb:     mb,
		bc:     bc,
		conn:   conn,
		reg:    reg,
		log:    lg,
	}
}

// StopTracker shuts down the http servers implementing the RESTful API and closes gracefully the connections to
// message broker and database.
func (t *Tracker) StopTracker() {
	var err error
	// shutdown http server
	if t.s != nil {
		if err = t.s.Shutdown(context.Background()); err != nil {
			t.log.Error().Err(err).Msg("error in http server shutdown")
		}
	}

	if t.ss != nil {
		if err = t.ss.Shutdown(context.Background()); err != nil {
			t.log.Error().Err(err).Msg("error in https server shutdown")
		}
	}

	close(t.sc) // close server channels to indicate shutdowns have finished
	// close message broker
	if t.mb != nil {
		if err = t.mb.Close(); err != nil {
			t.log.Error().Err(err).Msg("error closing message broker")
		}
	}
	// close database
	if t.db != nil {
		err = db.Close(t.dbtype, t.db)
		t.log.Info().Str("dbtype", t.dbtype).Err(err).Msg("disconnecting database")
	}
}

// ManageEvents starts go routines to consume the message broker queues for contract events sent by the watcher
// service. For each connected blockchain, two channels are opened, one for events and one for errors.
func (t *Tracker) ManageEvents() error {
	// for each chain establish a process to read events from the broker queues
	for net := range t.bc {
		mut := new(sync.Mutex)
		mut.Lock()

		eveCh, errCh, err := t.mb.GetEvents(net, mut)
		if err != nil {
			return err
		}

		// launch event channel reader
		go func(netName string) {
			t.log.Info().Str("net", netName).Msg("start listening to watcher event channel")
			for eve := range eveCh {
				t.log.Info().Str("net", netName).Str("kind", string(eve.Kind)).Str("tx", eve.TxHash).
					Str("ngo", eve.NGO).Msg("received contract event")
				mut.Unlock()
			}
			t.log.Info().Str("net", netName).Msg("stop listening to watcher event channel")
		}(net)

		// launch error channel reader
		go func(netName string) {
			for e := range errCh {
				t.log.Error().Str("net", netName).Err(e).Msg("received broker error")
			}
		}(net)
	}

	return nil
}
