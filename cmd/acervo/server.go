package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/vferraz/acervo/internal/api"
	"github.com/vferraz/acervo/internal/config"
	"github.com/vferraz/acervo/internal/indexing"
	"github.com/vferraz/acervo/internal/itemtext"
	"github.com/vferraz/acervo/internal/openai"
	"github.com/vferraz/acervo/internal/rag"
	"github.com/vferraz/acervo/internal/source"
	"github.com/vferraz/acervo/internal/storage"
	"github.com/vferraz/acervo/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the acervo server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools on stdio")
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "acervo version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	vectors := vectorstore.New(store.DB(), logger)
	embedder := openai.NewEmbeddingClient(cfg.Provider.OpenAIAPIKey, cfg.Provider.EmbedModel)
	chat := openai.NewChatClient(cfg.Provider.ChatModel, cfg.Provider.OpenAIAPIKey, cfg.Provider.MistralAPIKey)
	logger.Info("chat provider resolved", "provider", chat.Provider().String(), "model", chat.Model())

	tainacan := source.NewTainacanClient(cfg.Source.BaseURL)
	formatter := itemtext.NewFormatter(splitFields(cfg.Indexing.Fields), cfg.Indexing.ChunkSize)
	orchestrator := indexing.NewOrchestrator(store, vectors, embedder, tainacan, formatter, logger)
	engine := rag.New(vectors, embedder, chat, store, cfg.Search.SystemPrompt, cfg.Search.MaxItems, logger)

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:   store,
		Engine:  engine,
		Indexer: orchestrator,
		Vectors: vectors,
		Token:   cfg.Server.APIToken,
	})
	if cfg.Server.APIToken == "" {
		logger.Warn("no API token configured, endpoints are unauthenticated")
	}

	// Resume persisted jobs and advance new ones in the background.
	driver := indexing.NewDriver(orchestrator, 2*time.Second, logger)
	go driver.Run(ctx)

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Engine:  engine,
			Indexer: orchestrator,
			Vectors: vectors,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("acervo listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func splitFields(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
