// Package main: offline signing service.
//
// Deploy this service network-restricted, with the node option pointing to a
// local rippled reachable only from this host. It holds the wallet secret and
// never talks to the public network.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/tarancss/cgw/lib/config"
	"github.com/tarancss/cgw/lib/wallet"
	"github.com/tarancss/cgw/lib/wallet/ripple"
	"github.com/tarancss/cgw/signer"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
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

	log := logger.WithField("svc", conf.ServiceName+"-signer")

	// create signer service; the wallet stays uninitialized until the client
	// calls /api/initialize
	w := ripple.New(&conf, log.WithField("chain", conf.AssetID), func(*wallet.Tx) {}, 0)

	s := signer.New(&conf, log, w)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info("Program killed !")
		// do last actions and wait for all write operations to end
		s.Stop()
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Infof("Signer: %s", s.Init(conf.RestfulEndpoint, conf.Port))

	<-finish
}
