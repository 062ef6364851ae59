// Standalone session API server. Runs the challenge-response authentication
// backend the treasury client logs in against.
package main

import (
	"flag"
	"net/http"
	"time"

	"zakobox-go/internal/logging"
	"zakobox-go/internal/sessionapi"
)

func main() {
	listen := flag.String("listen", ":8547", "address to listen on")
	logFormat := flag.String("log-format", "text", "log format (text or json)")
	flag.Parse()

	logging.Init("info", *logFormat)
	log := logging.Component("session_api")

	srv := &http.Server{
		Addr:              *listen,
		Handler:           sessionapi.New().Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithField("listen", *listen).Info("session API listening")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
