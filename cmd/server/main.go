package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/canopy-chat/canopy/internal/ai"
	"github.com/canopy-chat/canopy/internal/api"
	"github.com/canopy-chat/canopy/internal/autosave"
	"github.com/canopy-chat/canopy/internal/branch"
	"github.com/canopy-chat/canopy/internal/codec"
	"github.com/canopy-chat/canopy/internal/graph"
	"github.com/canopy-chat/canopy/internal/storage"
)

// defaultGreeting seeds the root node of a fresh conversation.
const defaultGreeting = "Hello! Drag a connection from me to start a thread."

// initLogger configures the global slog default with JSON output.
func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(h))
}

// envOrDefault resolves a configuration value with the priority:
//
//	flag (if explicitly set, i.e. differs from defaultVal) > env var > default.
func envOrDefault(envKey, flagVal, defaultVal string) string {
	if flagVal != defaultVal {
		return flagVal
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	// ---- Flags -----------------------------------------------------------
	dbPathFlag := flag.String("db-path", "./canopy.db", "Path to SQLite database file")
	portFlag := flag.Int("port", 8080, "HTTP server port")
	logLevel := flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	aiProviderFlag := flag.String("ai-provider", "", "Model backend: bedrock or ollama (empty = disabled)")
	aiRegionFlag := flag.String("ai-region", "us-east-1", "AWS region for Bedrock provider")
	aiModelFlag := flag.String("ai-model", "", "Model ID (provider-specific)")
	ollamaURLFlag := flag.String("ollama-url", "http://localhost:11434", "Ollama API URL")
	autosaveMs := flag.Int("autosave-ms", 500, "Autosave quiet period in milliseconds")
	greetingFlag := flag.String("greeting", defaultGreeting, "Root node greeting for a fresh conversation")
	flag.Parse()

	// Resolve config: flag > env var > default.
	dbPath := envOrDefault("CANOPY_DB_PATH", *dbPathFlag, "./canopy.db")
	portStr := envOrDefault("CANOPY_PORT", strconv.Itoa(*portFlag), "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Fatalf("invalid port value %q: %v", portStr, err)
	}
	aiProvider := envOrDefault("CANOPY_AI_PROVIDER", *aiProviderFlag, "")
	aiRegion := envOrDefault("CANOPY_AI_REGION", *aiRegionFlag, "us-east-1")
	aiModel := envOrDefault("CANOPY_AI_MODEL", *aiModelFlag, "")
	ollamaURL := envOrDefault("CANOPY_OLLAMA_URL", *ollamaURLFlag, "http://localhost:11434")
	greeting := envOrDefault("CANOPY_GREETING", *greetingFlag, defaultGreeting)

	initLogger(*logLevel)

	// ---- Durable store ---------------------------------------------------
	durable, err := storage.New(dbPath)
	if err != nil {
		log.Fatalf("failed to initialise storage: %v", err)
	}

	// ---- Graph store -----------------------------------------------------
	ctx := context.Background()
	store := graph.NewStore()

	// Restore the persisted conversation, or seed a fresh root. A corrupt
	// persisted document is discarded rather than blocking startup.
	if raw, ok, err := durable.LoadSlot(ctx, storage.ConversationSlot); err != nil {
		log.Fatalf("failed to read persisted conversation: %v", err)
	} else if ok {
		nodes, edges, vp, err := codec.Deserialize([]byte(raw))
		if err == nil {
			err = store.SetAll(nodes, edges, vp)
		}
		if err != nil {
			slog.Warn("persisted conversation unusable, starting fresh", "error", err)
			store.SeedRoot(greeting)
		}
	} else {
		store.SeedRoot(greeting)
	}

	// ---- SSE Broadcaster -------------------------------------------------
	sse := api.NewSSEBroadcaster()

	// ---- Model backend (optional) ----------------------------------------
	var provider ai.Provider
	if aiProvider != "" {
		cfg := ai.ProviderConfig{
			Kind:      ai.ProviderKind(aiProvider),
			Region:    aiRegion,
			Model:     aiModel,
			OllamaURL: ollamaURL,
		}
		provider, err = ai.NewProvider(ctx, cfg)
		if err != nil {
			slog.Warn("model backend init failed, replies will be error content", "error", err)
		} else {
			slog.Info("model backend ready", "provider", provider.Name())
		}
	}

	// ---- Branch controller -----------------------------------------------
	controller := branch.NewController(store, provider,
		ai.DefaultGenerateOptions(), api.NewGraphBroadcaster(sse))

	// ---- Autosave --------------------------------------------------------
	saver := autosave.New(time.Duration(*autosaveMs)*time.Millisecond,
		func() ([]byte, error) {
			return codec.Encode(codec.Serialize(store.Snapshot()))
		},
		func(ctx context.Context, data []byte) error {
			return durable.SaveSlot(ctx, storage.ConversationSlot, string(data))
		},
	)

	// Every committed mutation schedules a write and reaches connected
	// rendering surfaces.
	store.Subscribe(func(m graph.Mutation) {
		saver.Request()
		sse.BroadcastMutation(m)
	})

	// ---- HTTP Server -----------------------------------------------------
	srv := api.NewServer(store, controller, durable, saver, sse, greeting)
	srv.RegisterRoutes()

	nodeCount := store.NodeCount()
	edgeCount := store.EdgeCount()

	// ---- Startup banner --------------------------------------------------
	aiStatus := "disabled"
	if provider != nil {
		aiStatus = provider.Name()
	}
	banner := fmt.Sprintf(`
═══════════════════════════════
 CANOPY — Conversation Canvas
 DB:   %s
 Port: %d
 Nodes loaded: %d
 Edges loaded: %d
 AI:   %s
═══════════════════════════════`, dbPath, port, nodeCount, edgeCount, aiStatus)
	fmt.Println(banner)

	slog.Info("canopy starting",
		"db_path", dbPath,
		"port", port,
		"nodes", nodeCount,
		"edges", edgeCount,
		"ai_provider", aiStatus,
	)

	addr := fmt.Sprintf(":%d", port)

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// ---- Graceful shutdown -----------------------------------------------
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Let in-flight replies land, then persist the final state.
	controller.InFlightWait()
	saver.Flush()
	saver.Close()

	if provider != nil {
		provider.Close()
	}
	if err := durable.Close(); err != nil {
		slog.Error("storage close error", "error", err)
	}

	slog.Info("canopy shutdown complete")
}
