package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/devserver"
	"github.com/ppiankov/boorupan/internal/logging"
)

var devAddr string

var devServerCmd = &cobra.Command{
	Use:   "dev-server",
	Short: "Run an in-memory sync server for local testing",
	Args:  cobra.NoArgs,
	RunE:  devServerAction,
}

func init() {
	devServerCmd.Flags().StringVar(&devAddr, "addr", "", "listen address (default from config)")
}

func devServerAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(os.Stderr, cfg.Log, cfg.Privacy.Redact)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	secret := cfg.DevServer.Secret
	if secret == "" {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		log.WithField("env", cfg.DevServer.SecretEnv).Warn("no dev server secret set, tokens will not survive a restart")
	}
	addr := cfg.DevServer.Addr
	if devAddr != "" {
		addr = devAddr
	}

	srv, err := devserver.New(devserver.Config{Secret: secret, Logger: log})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Dev sync server on http://%s\n", addr)
	fmt.Printf("  log in with: boorupan sync login --server http://%s --user <name>\n", addr)
	return srv.Run(ctx, addr)
}
