package tracker

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http/https server to service the RESTful API for a tracker service. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (t *Tracker) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	initMetrics()

	r := t.router()

	// setup shutdown channel
	t.sc = make(chan struct{})

	// start http server
	if port != "" {
		t.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = t.s.ListenAndServe()
		}()

		t.log.Info().Str("endpoint", endpoint).Str("port", port).Msg("listening to API http requests")
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		t.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = t.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		t.log.Info().Str("endpoint", endpoint).Str("port", sslPort).Msg("listening to API https requests")
	}
	// wait for servers to be shutdown
	<-t.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}

// router builds the API definition.
func (t *Tracker) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/", t.homeHandler)
	r.HandleFunc("/networks", t.networksHandler).Methods("GET") // get all available blockchains
	r.Handle("/metrics", metricsHandler()).Methods("GET")

	// wallet session
	r.HandleFunc("/session", t.sessionHandler).Methods("GET")              // current session
	r.HandleFunc("/session", t.connectHandler).Methods("POST")             // connect wallet
	r.HandleFunc("/session", t.disconnectHandler).Methods("DELETE")        // disconnect wallet
	r.HandleFunc("/address/{address}", t.addrBalHandler).Methods("GET")    // get address balance

	// registry reads
	r.HandleFunc("/ngos", t.listNGOsHandler).Methods("GET")                          // search organizations
	r.HandleFunc("/ngos/{wallet}/donations", t.orgDonationsHandler).Methods("GET")   // donations to one organization
	r.HandleFunc("/donations", t.listDonationsHandler).Methods("GET")                // search donations
	r.HandleFunc("/withdrawals", t.withdrawalsHandler).Methods("GET")                // pending withdrawals per organization

	// registry writes
	r.HandleFunc("/ngos", t.registerNGOHandler).Methods("POST")                      // register an organization
	r.HandleFunc("/ngos/{wallet}/approval", t.approveNGOHandler).Methods("POST")     // set the approval flag
	r.HandleFunc("/donations", t.donateHandler).Methods("POST")                      // submit a donation
	r.HandleFunc("/donations/{id}/proof", t.addProofHandler).Methods("POST")         // attach a proof reference
	r.HandleFunc("/withdrawals", t.withdrawHandler).Methods("POST")                  // withdraw pending balance
	r.HandleFunc("/owner", t.transferOwnershipHandler).Methods("POST")               // transfer administrator rights

	// organization watches
	r.HandleFunc("/watch/{wallet}", t.watchHandler)     // start or stop watching an organization
	r.HandleFunc("/watch", t.getWatchesHandler).Methods("GET") // get watched organizations

	return r
}
