package signer

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http server servicing the RESTful API of the
// signer. It blocks until Stop shuts the server down.
func (s *Signer) Init(endpoint, port string) string {
	var err error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/api/isalive", s.isAliveHandler).Methods("GET")
	r.HandleFunc("/api/initialize", s.initializeHandler).Methods("POST")
	r.HandleFunc("/api/wallets", s.walletsHandler).Methods("POST")
	r.HandleFunc("/api/sign", s.signHandler).Methods("POST")

	// setup shutdown channel
	s.sc = make(chan struct{})

	s.s = &http.Server{
		Handler: r,
		Addr:    endpoint + ":" + port,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}

	go func() {
		err = s.s.ListenAndServe()
	}()

	s.log.Infof("Listening to API http requests on %s:%s", endpoint, port)

	// wait for server to be shutdown
	<-s.sc

	return fmt.Sprintf("shutdown http server:%v", err)
}
