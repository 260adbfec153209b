package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"s3mcp/internal/config"
	"s3mcp/internal/logging"
	"s3mcp/internal/mcp"
	"s3mcp/internal/storage"
	"s3mcp/internal/transfer"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the MCP server",
	RunE:  runUp,
}

var (
	upListen  string
	upMcpPath string
	upPublic  bool
)

func init() {
	upCmd.Flags().StringVar(&upListen, "listen", "", "host:port to listen on (overrides config)")
	upCmd.Flags().StringVar(&upMcpPath, "mcp-path", "", "HTTP path for MCP endpoint (overrides config)")
	upCmd.Flags().BoolVar(&upPublic, "public", false, "bind publicly and enable per-IP rate limiting")
}

func runUp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(ExitConfigInvalid)
	}
	if upListen != "" {
		cfg.ListenAddr = upListen
	}
	if upMcpPath != "" {
		cfg.MCPPath = upMcpPath
	}
	if upPublic {
		cfg.Public = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(ExitConfigInvalid)
	}

	log := logging.New(cfg.LogLevel)

	store, err := storage.New(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize storage client: %w", err)
	}
	engine := transfer.NewEngine(store, transfer.Options{
		DownloadDir:    cfg.DownloadDir,
		ChunkSize:      cfg.ChunkSizeBytes,
		Window:         cfg.WindowSize,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, log)
	srv := mcp.NewServer(cfg, store, engine, log)

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind %s: %v\n", cfg.ListenAddr, err)
		os.Exit(ExitBindFailure)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", listener.Addr().String()).Str("path", cfg.MCPPath).
		Str("endpoint", cfg.Endpoint).Msg("s3mcp listening")
	fmt.Printf("MCP endpoint: http://%s%s\n", listener.Addr().String(), cfg.MCPPath)

	if err := srv.Serve(runCtx, listener); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Msg("shutdown complete")
	return nil
}
