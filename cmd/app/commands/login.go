package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/allisson/offline-sync/internal/remote"
)

// TokenWriter stores and forgets the sync account's tokens.
type TokenWriter interface {
	Save(ctx context.Context, tokens remote.Tokens) error
	Clear(ctx context.Context) error
}

// RunLogin encrypts and stores the tokens the engine authenticates with. Running
// engines pick them up on their next request or reconnect.
func RunLogin(
	ctx context.Context,
	store TokenWriter,
	logger *slog.Logger,
	writer io.Writer,
	accessToken string,
	refreshToken string,
) error {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return fmt.Errorf("access token is required")
	}

	tokens := remote.Tokens{AccessToken: accessToken, RefreshToken: strings.TrimSpace(refreshToken)}
	if err := store.Save(ctx, tokens); err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}

	logger.Info("credentials stored", slog.Bool("refresh_token", tokens.RefreshToken != ""))
	_, _ = fmt.Fprintln(writer, "Credentials stored")
	return nil
}

// RunLogout removes the stored tokens.
func RunLogout(ctx context.Context, store TokenWriter, logger *slog.Logger, writer io.Writer) error {
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}

	logger.Info("credentials cleared")
	_, _ = fmt.Fprintln(writer, "Credentials removed")
	return nil
}
