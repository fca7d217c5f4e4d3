package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/teidesu/bw-ssh-agent/internal/config"
	"github.com/teidesu/bw-ssh-agent/internal/sealing"
	"github.com/teidesu/bw-ssh-agent/internal/secret"
	"github.com/teidesu/bw-ssh-agent/internal/store"
	"github.com/teidesu/bw-ssh-agent/internal/vault"
	"github.com/teidesu/bw-ssh-agent/internal/vaultcrypto"
)

// runLogin implements `login`: prelogin KDF lookup, password-grant token
// exchange, and sealing the resulting master/symmetric keys. Flags missing
// from the command line are prompted for interactively.
func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "vault account email")
	password := fs.String("password", "", "vault account master password")
	vaultURL := fs.String("vault-url", vault.DefaultURL, "vault server URL")
	fs.Parse(args) //nolint:errcheck

	if *email == "" {
		var err error
		*email, err = promptLine("Email: ")
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
	}
	if *password == "" {
		var err error
		*password, err = promptPassword("Master password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	ctx := context.Background()
	client := vault.NewClient()

	cfg, err := client.GetConfig(ctx, *vaultURL)
	if err != nil {
		return fmt.Errorf("fetch server config: %w", err)
	}
	if cfg.Server != nil {
		fmt.Printf("connected to %s (%s)\n", cfg.Server.Name, cfg.Version)
	}

	prelogin, err := client.Prelogin(ctx, cfg.Environment.Identity, *email)
	if err != nil {
		return fmt.Errorf("prelogin: %w", err)
	}
	if prelogin.KDF != vault.KDFPBKDF2 {
		return fmt.Errorf("%w: account uses kdf type %d, only PBKDF2 is supported",
			vaultcrypto.ErrUnsupportedCrypto, prelogin.KDF)
	}

	masterKey, err := vaultcrypto.MasterKey(vaultcrypto.KDFPBKDF2, *password, *email, prelogin.KDFIterations)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}
	defer secret.Bytes(masterKey).Zero()

	masterKeyHash := vaultcrypto.MasterKeyHash(masterKey, *password)

	tokenResp, err := client.PasswordLogin(ctx, cfg.Environment.Identity, *email, masterKeyHash)
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}

	expandedMasterKey, err := vaultcrypto.Expand(masterKey)
	if err != nil {
		return fmt.Errorf("expand master key: %w", err)
	}
	defer expandedMasterKey.Zero()

	rawSymmetric, err := vaultcrypto.Decrypt(expandedMasterKey, tokenResp.Key)
	if err != nil {
		return fmt.Errorf("decrypt account symmetric key: %w", err)
	}
	defer secret.Bytes(rawSymmetric).Zero()

	keypairPath, err := config.KeypairPath()
	if err != nil {
		return fmt.Errorf("resolve keypair path: %w", err)
	}
	sealingFacade := sealing.Start(keypairPath)
	defer sealingFacade.Terminate()

	if err := sealingFacade.EnsureKeypair(); err != nil {
		return fmt.Errorf("ensure sealing keypair: %w", err)
	}

	sealedMasterKey, err := sealingFacade.Encrypt(masterKey)
	if err != nil {
		return fmt.Errorf("seal master key: %w", err)
	}
	sealedSymmetricKey, err := sealingFacade.Encrypt(rawSymmetric)
	if err != nil {
		return fmt.Errorf("seal symmetric key: %w", err)
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

	auth := &store.AuthBlob{
		VaultURL:           *vaultURL,
		AccessToken:        tokenResp.AccessToken,
		RefreshToken:       tokenResp.RefreshToken,
		ExpiresAt:          time.Now().Unix() + tokenResp.ExpiresIn,
		SealedMasterKey:    sealedMasterKey,
		SealedSymmetricKey: sealedSymmetricKey,
	}
	if err := st.SaveAuth(ctx, auth); err != nil {
		return fmt.Errorf("save auth: %w", err)
	}

	fmt.Println("logged in successfully")
	return nil
}

func promptLine(label string) (string, error) {
	fmt.Print(label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(label string) (string, error) {
	fmt.Print(label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
