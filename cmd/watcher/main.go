// Package main: watcher service.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openimpact/dtrack/lib/chain"
	"github.com/openimpact/dtrack/lib/config"
	"github.com/openimpact/dtrack/lib/msg"
	"github.com/openimpact/dtrack/lib/msg/amqp"
	"github.com/openimpact/dtrack/lib/store"
	"github.com/openimpact/dtrack/lib/store/db"
	"github.com/openimpact/dtrack/watcher"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to serve Prometheus metrics at http://localhost:9100")
	debug := flag.Bool("d", false, "flag to log at debug level")
	flag.Parse()

	lvl := zerolog.InfoLevel
	if *debug {
		lvl = zerolog.DebugLevel
	}

	lg := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "watcher").Logger()

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

	// load Prometheus monitor
	if *monitor {
		go func() {
			lg.Info().Msg("serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())

			if errMon := http.ListenAndServe(":9100", h); errMon != nil {
				lg.Error().Err(errMon).Msg("metrics API stopped")
			}
		}()
	}

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

		defer func() {
			errClose := mb.Close()
			lg.Info().Err(errClose).Msg("closing message broker")
		}()
	default:
		lg.Warn().Str("mbtype", conf.MbType).Msg("unknown message broker type")
	}

	// create watcher service
	w := watcher.New(conf.DBType, dbConn, mb, bc, conf.Contract, lg)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		lg.Info().Msg("program killed !")
		// do last actions and wait for all scanned blocks to finish
		w.StopWatcher()
	}()

	// launch a chain watcher per network and wait for them to return
	lg.Info().Str("status", <-w.Watch()).Msg("watcher stopped")
}
