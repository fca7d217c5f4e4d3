package main

import (
	"context"
	"flag"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/teidesu/bw-ssh-agent/internal/config"
	"github.com/teidesu/bw-ssh-agent/internal/store"
)

// runList implements `list`: print every persisted identity as an
// authorized_keys-formatted OpenSSH public key line.
func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	dbPath, err := config.DatabasePath()
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close() //nolint:errcheck

	identities, err := st.ListIdentities(context.Background())
	if err != nil {
		return fmt.Errorf("list identities: %w", err)
	}

	for _, id := range identities {
		pub, err := ssh.ParsePublicKey(id.PublicKey)
		if err != nil {
			return fmt.Errorf("parse public key for %s: %w", id.Name, err)
		}
		line := ssh.MarshalAuthorizedKey(pub)
		fmt.Printf("%s%s\n", string(line[:len(line)-1]), " "+id.Name)
	}
	return nil
}
