package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http server servicing the RESTful API of the
// gateway. It blocks until Stop shuts the server down.
func (g *Gateway) Init(endpoint, port string) string {
	var err error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/api/isalive", g.isAliveHandler).Methods("GET")
	r.HandleFunc("/api/capabilities", g.capabilitiesHandler).Methods("GET")
	r.HandleFunc("/api/assets", g.assetListHandler).Methods("GET")
	r.HandleFunc("/api/assets/{assetId}", g.assetHandler).Methods("GET")
	r.HandleFunc("/api/addresses/{address}/validity", g.validityHandler).Methods("GET")
	r.HandleFunc("/api/balances", g.balancesHandler).Methods("GET")
	r.HandleFunc("/api/balances/{address}/observation", g.observeHandler).Methods("POST", "DELETE")
	r.HandleFunc("/api/transactions", g.rebuildHandler).Methods("PUT") // replacement is unsupported
	r.HandleFunc("/api/transactions/single", g.buildSingleHandler).Methods("POST")
	r.HandleFunc("/api/transactions/many-inputs", g.buildManyInputsHandler).Methods("POST")
	r.HandleFunc("/api/transactions/many-outputs", g.buildManyOutputsHandler).Methods("POST")
	r.HandleFunc("/api/transactions/broadcast", g.broadcastHandler).Methods("POST")
	r.HandleFunc("/api/transactions/broadcast/single/{operationId}", g.broadcastedHandler).Methods("GET")
	r.HandleFunc("/api/transactions/broadcast/many-inputs/{operationId}", g.broadcastedHandler).Methods("GET")
	r.HandleFunc("/api/transactions/broadcast/many-outputs/{operationId}", g.broadcastedHandler).Methods("GET")
	r.HandleFunc("/api/transactions/broadcast/{operationId}", g.forgetHandler).Methods("DELETE")
	r.HandleFunc("/api/transactions/history/from/{address}", g.historyFromHandler).Methods("GET")
	r.HandleFunc("/api/transactions/history/to/{address}", g.historyToHandler).Methods("GET")
	r.HandleFunc("/api/transactions/history/from/{address}/observation", g.observeHistoryHandler).Methods("POST", "DELETE")
	r.HandleFunc("/api/transactions/history/to/{address}/observation", g.observeHistoryHandler).Methods("POST", "DELETE")

	// setup shutdown channel
	g.sc = make(chan struct{})

	g.s = &http.Server{
		Handler: r,
		Addr:    endpoint + ":" + port,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}

	go func() {
		err = g.s.ListenAndServe()
	}()

	g.log.Infof("Listening to API http requests on %s:%s", endpoint, port)

	// wait for server to be shutdown
	<-g.sc

	return fmt.Sprintf("shutdown http server:%v", err)
}
