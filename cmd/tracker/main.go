// Package main: tracker service.
//
// The tracker serves the RESTful API of the donation registry: wallet sessions, organization and donation queries,
// contract submissions and watch subscriptions. The DB it uses must be the same database used by the watcher
// microservice so watched organizations can be listed.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/openimpact/dtrack/lib/chain"
	"github.com/openimpact/dtrack/lib/chain/types"
	"github.com/openimpact/dtrack/lib/config"
	"github.com/openimpact/dtrack/lib/msg"
	"github.com/openimpact/dtrack/lib/msg/amqp"
	"github.com/openimpact/dtrack/lib/registry"
	"github.com/openimpact/dtrack/lib/store"
	"github.com/openimpact/dtrack/lib/store/db"
	"github.com/openimpact/dtrack/tracker"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	debug := flag.Bool("d", false, "flag to log at debug level")
	flag.Parse()

	lvl := zerolog.InfoLevel
	if *debug {
		lvl = zerolog.DebugLevel
	}

	lg := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "tracker").Logger()

	// local .env overrides, if any
	_ = godotenv.Load()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		lg.Fatal().Err(err).Msg("cannot extract configuration")
	}

	lg.Info().Interface("conf", conf).Msg("configuration loaded")

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			lg.Fatal().Err(err).Msg("cannot connect to database")
		}

		lg.Info().Str("db", conf.DBType).Msg("connected to database")
	}

	// dial all configured networks
	nets := append([]config.NetworkConfig{conf.Network}, conf.Networks...)
	bc := make(map[string]chain.Chain, len(nets))

	for _, n := range nets {
		c, errDial := chain.Dial(n)
		if errDial != nil {
			lg.Fatal().Str("net", n.Label()).Err(errDial).Msg("cannot dial network")
		}

		bc[n.Label()] = c
	}

	lg.Info().Int("networks", len(bc)).Msg("blockchain clients loaded")

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				lg.Fatal().Err(err).Msg("cannot connect to message broker")
			}
		}

		if err = mb.Setup(nil); err != nil {
			lg.Fatal().Err(err).Msg("cannot setup message broker")
		}
	default:
		lg.Warn().Str("mbtype", conf.MbType).Msg("unknown message broker type")
	}

	// load HD wallet and wire the session connector over the target network
	hdw, err := chain.NewHDWallet(conf.Seed, conf.Accounts, nets)
	if err != nil {
		lg.Fatal().Err(err).Msg("cannot load HD wallet")
	}

	target := bc[conf.Network.Label()]
	reg := registry.New(target, hdw, conf.Contract, lg)
	ownerFn := func(ctx context.Context, s types.Session) bool { return reg.IsOwner(ctx, s) }
	conn := chain.NewConnector(hdw, target, conf.Network, ownerFn, lg)

	// create tracker service
	t := tracker.New(conf.DBType, dbConn, mb, bc, conn, reg, lg)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		lg.Info().Msg("program killed !")
		// do last actions and wait for all write operations to end
		t.StopTracker()
		close(finish)
	}()

	// manage watcher events
	if err = t.ManageEvents(); err != nil {
		lg.Error().Err(err).Msg("cannot setup broker readers for events")
	}

	// init RESTful API, wait for its return and log response
	lg.Info().Msg(t.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
