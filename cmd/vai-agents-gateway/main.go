package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vango-go/vai-agents/internal/dotenv"
	"github.com/vango-go/vai-agents/internal/gatewayrun"
)

func runMain(ctx context.Context, stderr io.Writer, deps gatewayrun.Deps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "vai-agents-gateway: %v\n", err)
		return 1
	}

	if err := gatewayrun.Run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "vai-agents-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, gatewayrun.DefaultDeps()))
}
