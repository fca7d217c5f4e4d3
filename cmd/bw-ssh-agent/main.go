// Command bw-ssh-agent is the thin CLI dispatcher for the daemon: it parses
// a subcommand and flags, then calls straight into the core packages.
package main

import (
	"fmt"
	"os"

	"github.com/teidesu/bw-ssh-agent/internal/vault"
	"github.com/teidesu/bw-ssh-agent/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	vault.SetClientVersion(version.Version)

	var err error
	switch os.Args[1] {
	case "daemon":
		err = dispatchDaemon(os.Args[2:])
	case "login":
		err = runLogin(os.Args[2:])
	case "sync":
		err = runSync(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	case "version":
		fmt.Printf("bw-ssh-agent v%s (built %s)\n", version.Version, version.BuildTime)
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "bw-ssh-agent: %v\n", err)
		os.Exit(1)
	}
}

func dispatchDaemon(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: bw-ssh-agent daemon <run|register>")
	}
	switch args[0] {
	case "run":
		return runDaemon(args[1:])
	case "register":
		return registerDaemon(args[1:])
	default:
		return fmt.Errorf("unknown daemon subcommand %q", args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: bw-ssh-agent <command> [flags]

commands:
  daemon run       start the agent server in the foreground
  daemon register  register as a user-level service
  login            authenticate against the vault
  sync             pull and reconcile exposed identities
  list             print stored identities as OpenSSH public keys`)
}
