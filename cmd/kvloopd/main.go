// Command kvloopd runs the event-loop variant of the cache server: it loads
// configuration from the environment, wires a logger, store and connection
// loop together, and blocks until SIGINT/SIGTERM triggers a graceful drain.
//
// CLI argument parsing is explicitly out of scope (see spec §1 Non-goals);
// every recognized option is read from KVLOOPD_* environment variables.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/logiface"

	"github.com/vacbansry/kvloopd/internal/config"
	"github.com/vacbansry/kvloopd/internal/logging"
	"github.com/vacbansry/kvloopd/internal/server"
	"github.com/vacbansry/kvloopd/internal/store"
)

func main() {
	log := logging.New(os.Stderr, logiface.LevelInformational)

	cfg, err := config.FromEnviron(config.Default())
	if err != nil {
		log.Emergency().Err(err).Log("invalid configuration")
		os.Exit(1)
	}

	s := store.New(cfg.CacheBytes)

	loop, err := server.New(s, log, cfg.ListenPort)
	if err != nil {
		log.Emergency().Err(err).Log("failed to start connection loop")
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Informational().Log("shutdown signal received")
		loop.Stop()
	}()

	log.Informational().Int("port", cfg.ListenPort).Int("cache_bytes", cfg.CacheBytes).Log("kvloopd listening")

	if err := loop.Run(); err != nil {
		log.Err().Err(err).Log("connection loop exited with error")
		_ = loop.Close()
		os.Exit(1)
	}

	loop.Join()
	if err := loop.Close(); err != nil {
		log.Err().Err(err).Log("error closing connection loop")
	}
}
