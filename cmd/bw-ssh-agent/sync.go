package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/teidesu/bw-ssh-agent/internal/config"
	"github.com/teidesu/bw-ssh-agent/internal/sealing"
	"github.com/teidesu/bw-ssh-agent/internal/store"
	"github.com/teidesu/bw-ssh-agent/internal/syncorch"
	"github.com/teidesu/bw-ssh-agent/internal/vault"
)

// runSync implements `sync`: pull the vault's sync payload and reconcile
// the persisted identity set. A missing login prints guidance and exits 0
// rather than treating it as an error.
func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	ctx := context.Background()

	dbPath, err := config.DatabasePath()
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close() //nolint:errcheck

	auth, err := st.GetAuth(ctx)
	if err != nil {
		return fmt.Errorf("load auth: %w", err)
	}
	if auth == nil {
		fmt.Println("not logged in, run `bw-ssh-agent login` first")
		return nil
	}

	client := vault.NewClient()
	cfg, err := client.GetConfig(ctx, auth.VaultURL)
	if err != nil {
		return fmt.Errorf("fetch server config: %w", err)
	}

	keypairPath, err := config.KeypairPath()
	if err != nil {
		return fmt.Errorf("resolve keypair path: %w", err)
	}
	sealingFacade := sealing.Start(keypairPath)
	defer sealingFacade.Terminate()

	if err := sealingFacade.EnsureKeypair(); err != nil {
		return fmt.Errorf("ensure sealing keypair: %w", err)
	}

	tokens := vault.NewTokenManager(client, st, cfg.Environment.Identity, auth)
	orchestrator := syncorch.New(client, tokens, sealingFacade, st, cfg.Environment.API)

	summary, err := orchestrator.Run(ctx)
	if err != nil {
		if errors.Is(err, syncorch.ErrNotLoggedIn) {
			fmt.Println("not logged in, run `bw-ssh-agent login` first")
			return nil
		}
		return fmt.Errorf("sync: %w", err)
	}

	if summary.Upserted == 0 && summary.Deleted == 0 {
		fmt.Println("no keys to sync, everything up to date")
	} else {
		fmt.Printf("found %d exposed key(s): updated %d, removed %d\n",
			summary.Found, summary.Upserted, summary.Deleted)
	}
	return nil
}
