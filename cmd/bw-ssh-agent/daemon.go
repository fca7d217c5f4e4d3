package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/teidesu/bw-ssh-agent/internal/agentserver"
	"github.com/teidesu/bw-ssh-agent/internal/config"
	"github.com/teidesu/bw-ssh-agent/internal/sealing"
	"github.com/teidesu/bw-ssh-agent/internal/signing"
	"github.com/teidesu/bw-ssh-agent/internal/store"
	"github.com/teidesu/bw-ssh-agent/internal/version"
)

// runDaemon implements `daemon run`: bind the agent socket, start the
// sealing worker, and serve SignRequest/RequestIdentities until signaled to
// stop.
func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon run", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	log.Printf("bw-ssh-agent v%s (built %s)", version.Version, version.BuildTime)

	running, err := config.IsRunning()
	if err != nil {
		return fmt.Errorf("check pid file: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (see %s)", mustPIDPath())
	}

	socketPath, err := config.SocketPath()
	if err != nil {
		return fmt.Errorf("resolve socket path: %w", err)
	}
	if err := config.RemoveStaleSocket(socketPath); err != nil {
		return err
	}

	dbPath, err := config.DatabasePath()
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close() //nolint:errcheck

	keypairPath, err := config.KeypairPath()
	if err != nil {
		return fmt.Errorf("resolve keypair path: %w", err)
	}
	sealingFacade := sealing.Start(keypairPath)
	defer sealingFacade.Terminate()

	if err := sealingFacade.EnsureKeypair(); err != nil {
		return fmt.Errorf("ensure sealing keypair: %w", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer ln.Close() //nolint:errcheck

	if err := config.WritePID(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer config.RemovePID() //nolint:errcheck

	handler := signing.NewHandler(st, sealingFacade)
	srv := agentserver.New(handler)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(context.Background(), ln) }()

	log.Printf("listening on %s", socketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		return ln.Close()
	case err := <-serveErr:
		return fmt.Errorf("accept loop: %w", err)
	}
}

// registerDaemon implements `daemon register`. Platform service
// registration is left to the platform's own tooling; this reports that
// plainly instead of faking launchd/systemd integration.
func registerDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon register", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	return fmt.Errorf("daemon register: not supported in this build")
}

func mustPIDPath() string {
	p, err := config.PIDPath()
	if err != nil {
		return "<unknown>"
	}
	return p
}
