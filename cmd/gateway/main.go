// Package main: custodial gateway service.
//
// The gateway exposes the RESTful API to build, broadcast and follow
// transactions, runs the view wallet against the configured node and
// reconciles observed sub-account balances. The wallet secret never reaches
// this process; signing happens in the separated signer service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tarancss/cgw/gateway"
	"github.com/tarancss/cgw/lib/config"
	"github.com/tarancss/cgw/lib/msg"
	"github.com/tarancss/cgw/lib/msg/amqp"
	"github.com/tarancss/cgw/lib/store"
	"github.com/tarancss/cgw/lib/store/db"
	"github.com/tarancss/cgw/lib/wallet"
	"github.com/tarancss/cgw/lib/wallet/ripple"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	logger := logrus.New()

	if level, err := logrus.ParseLevel(conf.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	log := logger.WithField("svc", conf.ServiceName)
	log.Infof("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
		panic(err)
	}

	log.Infof("Connected to database:%+v", conf.DBConn)

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Info("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			_ = http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	default:
		log.Warnf("Unknown message broker type: %s, events will not be published", conf.MbType)
	}

	// create gateway service
	g := gateway.New(&conf, log, dbConn, mb, func(onTx wallet.TxHandler, page int64) wallet.Adapter {
		return ripple.New(&conf, log.WithField("chain", conf.AssetID), onTx, page)
	})

	if err = g.Start(context.Background()); err != nil {
		panic(err)
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info("Program killed !")
		// do last actions and wait for all write operations to end
		g.Stop()
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Infof("Gateway: %s", g.Init(conf.RestfulEndpoint, conf.Port))

	<-finish
}
