package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/sse"
	"github.com/ppiankov/boorupan/internal/syncer"
	"github.com/ppiankov/boorupan/internal/transport"
)

var syncLoginUser string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize favorites and sites with a sync server",
}

var syncLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Start a session: push local favorites, pull remote, merge sites",
	Args:  cobra.NoArgs,
	RunE:  syncLoginAction,
}

var syncLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE:  syncLogoutAction,
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace local favorites and sites with the remote copy",
	Args:  cobra.NoArgs,
	RunE:  syncPullAction,
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload all local favorites",
	Args:  cobra.NoArgs,
	RunE:  syncPushAction,
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live event stream until interrupted",
	Args:  cobra.NoArgs,
	RunE:  syncWatchAction,
}

func init() {
	syncLoginCmd.Flags().StringVar(&syncLoginUser, "user", "", "request a token for this user from the server's /api/login")
	syncCmd.AddCommand(syncLoginCmd, syncLogoutCmd, syncPullCmd, syncPushCmd, syncWatchCmd)
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// requestToken asks a dev-style server for a bearer token.
func requestToken(ctx context.Context, client transport.Client, server, user string) (string, error) {
	var resp loginResponse
	url := strings.TrimRight(server, "/") + "/api/login"
	if err := client.PostJSON(ctx, url, map[string]string{"user": user}, &resp); err != nil {
		return "", fmt.Errorf("login as %s: %w", user, err)
	}
	if resp.Token == "" {
		return "", errors.New("server returned an empty token")
	}
	return resp.Token, nil
}

func syncLoginAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	s, err := a.session(ctx)
	if err != nil {
		return err
	}
	if s.Server == "" {
		return errors.New("no sync server: pass --server or set sync.server")
	}
	if syncLoginUser != "" {
		if s.Token, err = requestToken(ctx, a.client, s.Server, syncLoginUser); err != nil {
			return err
		}
	}
	if !s.Active() {
		return errors.New("no token: pass --token, --user, or set " + a.cfg.Sync.TokenEnv)
	}

	eng, err := a.engine(nil)
	if err != nil {
		return err
	}
	defer eng.EndSession()

	local := a.favs.Len()
	if err := eng.EstablishSession(ctx, s); err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	if err := a.saveSession(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	fmt.Printf("Logged in to %s.\n", s.Server)
	fmt.Printf("  pushed %d local favorites, now %d after pull\n", local, a.favs.Len())
	fmt.Printf("  %d sites after merge\n", len(a.sites.List()))
	return nil
}

func syncLogoutAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.saveSession(ctx, syncer.Session{}); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	fmt.Println("Session cleared. Local favorites are kept.")
	return nil
}

// attached opens the app with the stored session attached.
func attached(ctx context.Context) (*app, *syncer.Engine, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, nil, err
	}
	eng, err := a.attachSession(ctx)
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	if eng == nil {
		_ = a.Close()
		return nil, nil, fmt.Errorf("%w: run 'boorupan sync login' first", syncer.ErrNoSession)
	}
	return a, eng, nil
}

func syncPullAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, eng, err := attached(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	defer eng.EndSession()

	n, err := eng.PullFavoritesMerge(ctx)
	if err != nil {
		return err
	}
	if err := eng.RefreshSites(ctx); err != nil {
		return err
	}
	fmt.Printf("Pulled %d favorites and %d sites.\n", n, len(a.sites.List()))
	return nil
}

func syncPushAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, eng, err := attached(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	defer eng.EndSession()

	if err := eng.PushAllFavorites(ctx); err != nil {
		return err
	}
	fmt.Printf("Pushed %d favorites.\n", a.favs.Len())
	return nil
}

func syncWatchAction(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	s, err := a.session(ctx)
	if err != nil {
		return err
	}
	eng, err := a.engine(func(ev sse.Event) {
		fmt.Printf("%s  %-14s favorites=%d sites=%d\n",
			time.Now().Format("15:04:05"), ev.Event, a.favs.Len(), len(a.sites.List()))
	})
	if err != nil {
		return err
	}
	if err := eng.Start(ctx, s); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer eng.EndSession()

	fmt.Printf("Watching %s (ctrl-c to stop)\n", s.Server)
	<-ctx.Done()
	fmt.Println("\nStopped.")
	return nil
}
