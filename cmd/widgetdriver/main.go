package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/matrix-org/widget-driver/common/version"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/audit"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/capabilityui"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/config"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/matrixclient"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/orchestrator"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/pending"
	"github.com/matrix-org/widget-driver/internal/widgetdriver/transport"
)

func main() {
	fmt.Printf("Matrix Widget Driver\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfgPath := getEnv("WIDGET_DRIVER_CONFIG", "./widgetdriver.yaml")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}

	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open audit log: %v\n", err)
			os.Exit(1)
		}
		defer auditLog.Close()
	}

	// The approval-room watcher gets its own Matrix client/sync loop,
	// independent of every session's client: mautrix.Client.Sync() allows
	// only one syncer per client (see DESIGN.md's cmd/widgetdriver entry), so
	// sharing a client across concurrent Subscribe callers silently kills
	// whichever subscription started first, and one session's disposal
	// would close the connection out from under every other subscriber.
	approvalClient, err := newMatrixClient(cfg.Matrix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create Matrix client for approval room: %v\n", err)
		os.Exit(1)
	}
	defer approvalClient.Close()

	prompt := capabilityui.NewPrompt(approvalClient, cfg.Approval.Room)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchApprovalRoom(ctx, approvalClient, cfg.Approval.Room, prompt)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Transport.Path, func(w http.ResponseWriter, r *http.Request) {
		widgetID := r.URL.Query().Get("widgetId")
		if widgetID == "" {
			http.Error(w, "widgetId is required", http.StatusBadRequest)
			return
		}
		roomID := r.URL.Query().Get("roomId")

		var requestedCaps []string
		if raw := r.URL.Query().Get("capabilities"); raw != "" {
			requestedCaps = strings.Split(raw, ",")
		}

		sessionID := uuid.NewString()

		// Each session gets its own Matrix client so its Sync loop and
		// eventual Close (via the orchestrator's dispose) never interfere
		// with any other concurrently-running session or the approval
		// watcher (spec.md §5's "disposing the orchestrator... closes the
		// transport", scoped to that session only).
		sessionClient, err := newMatrixClient(cfg.Matrix)
		if err != nil {
			slog.Error("widgetdriver: failed to create Matrix client", "session_id", sessionID, "widget_id", widgetID, "err", err)
			return
		}

		ws, err := transport.Upgrade(w, r)
		if err != nil {
			slog.Error("widgetdriver: failed to upgrade websocket", "session_id", sessionID, "widget_id", widgetID, "err", err)
			sessionClient.Close()
			return
		}

		orch := orchestrator.New(orchestrator.Config{
			WidgetID:              widgetID,
			RoomID:                roomID,
			UserID:                cfg.Matrix.UserID,
			DeviceID:              cfg.Matrix.DeviceID,
			RequestedCapabilities: requestedCaps,
			Pending: pending.Config{
				MaxPending: cfg.Pending.MaxPending,
				Timeout:    cfg.Pending.Timeout,
			},
		}, ws, sessionClient, prompt, auditLog)

		slog.Info("widgetdriver: session started", "session_id", sessionID, "widget_id", widgetID, "room_id", roomID)
		go func() {
			if err := orch.Run(ctx); err != nil {
				slog.Warn("widgetdriver: session ended", "session_id", sessionID, "widget_id", widgetID, "err", err)
			}
		}()
	})

	server := &http.Server{Addr: cfg.Transport.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("widgetdriver: listening", "addr", cfg.Transport.ListenAddr, "path", cfg.Transport.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
		os.Exit(1)
	}
}

// watchApprovalRoom feeds room messages in the capability-approval room into
// prompt, resolving outstanding Request calls as replies arrive. This is the
// one long-lived subscription shared by every widget session's approval
// flow, distinct from each session's own per-room sync subscription.
func watchApprovalRoom(ctx context.Context, matrixClient *matrixclient.Client, room string, prompt *capabilityui.Prompt) {
	events, err := matrixClient.Subscribe(ctx, room)
	if err != nil {
		slog.Error("widgetdriver: failed to subscribe to approval room", "room", room, "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type != "m.room.message" {
				continue
			}
			body, _ := evt.Content["body"].(string)
			if body == "" {
				continue
			}
			if err := prompt.HandleReply(body); err != nil {
				slog.Warn("widgetdriver: failed to handle approval reply", "err", err)
			}
		}
	}
}

// newMatrixClient builds a fresh matrixclient.Client from the driver's
// Matrix identity. Every caller gets its own *mautrix.Client and thus its
// own Sync loop; see the comments at its call sites for why this must never
// be shared across concurrent subscribers.
func newMatrixClient(cfg config.Matrix) (*matrixclient.Client, error) {
	return matrixclient.New(matrixclient.Config{
		Homeserver:  cfg.Homeserver,
		UserID:      cfg.UserID,
		DeviceID:    cfg.DeviceID,
		AccessToken: cfg.AccessToken,
	})
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
