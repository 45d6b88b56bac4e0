package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/aldar-voice/callbridge/pkg/callbridge"
	"github.com/aldar-voice/callbridge/pkg/config"
	"github.com/aldar-voice/callbridge/pkg/livesession"
	"github.com/aldar-voice/callbridge/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		log.Fatalf("recordings dir: %v", err)
	}

	registry := callbridge.NewRegistry()
	chunker := callbridge.NewChunker(cfg.LogEndpoint, cfg.LogChunkSize, logger)
	dispatcher := callbridge.NewDispatcher(cfg.AldarBaseAPIURL, logger)
	bridge := callbridge.NewBridge(registry, chunker, dispatcher, cfg.RecordingsDir, logger)

	newSession := sessionFactory(cfg, dispatcher, logger)

	router := chi.NewRouter()
	router.Get("/healthz", handleHealthz)
	router.Get("/ws/telephony", handleTelephony(bridge, newSession, logger))
	router.Get("/ws/operator", handleOperator(registry, logger))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("bridge listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// sessionFactory builds the per-call LiveSession constructor: a Gemini Live
// session driven directly by google.golang.org/genai, fed the tool schemas
// the dispatcher exposes.
func sessionFactory(cfg *config.Config, dispatcher *callbridge.Dispatcher, logger callbridge.Logger) callbridge.SessionFactory {
	return func(ctx context.Context, call *callbridge.Call) (livesession.LiveSession, error) {
		systemInstruction, err := fetchSystemInstruction(ctx, cfg.SysInstEndpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", callbridge.ErrResourceFailure, err)
		}

		return livesession.NewGoogleLive(ctx, livesession.GoogleLiveConfig{
			APIKey:            cfg.GeminiKey,
			SystemInstruction: systemInstruction,
			Tools:             dispatcher.Schemas(),
		})
	}
}

// fetchSystemInstruction implements spec.md §6.4: a non-200 response is a
// fatal construction error for the call it's building.
func fetchSystemInstruction(ctx context.Context, endpoint string) (string, error) {
	base := "You are a professional AI assistant for Aldar Exchange. If a customer asks to speak with a human, call transfer_to_human_operator."

	if endpoint == "" {
		return base, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching system instruction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("system instruction endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return base + "\n\nAdditional Data:\n" + string(body), nil
}

// telephonyConn adapts a coder/websocket connection to callbridge.TelephonyConn.
type telephonyConn struct {
	conn *websocket.Conn
}

func (t *telephonyConn) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *telephonyConn) WriteFrame(ctx context.Context, frame []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, frame)
}

func (t *telephonyConn) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "call ended")
}

func handleTelephony(bridge *callbridge.Bridge, newSession callbridge.SessionFactory, logger callbridge.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("telephony ws accept failed", "error", err)
			return
		}

		conn := &telephonyConn{conn: c}
		if err := bridge.RunCall(r.Context(), conn, newSession); err != nil {
			logger.Warn("call ended with error", "error", err)
			conn.Close()
			return
		}
	}
}

// operatorConn adapts a coder/websocket connection to callbridge.OperatorConn.
type operatorConn struct {
	conn *websocket.Conn
}

func (o *operatorConn) ReadMessage() ([]byte, error) {
	_, data, err := o.conn.Read(context.Background())
	return data, err
}

func (o *operatorConn) WriteJSON(v interface{}) error {
	return wsjson.Write(context.Background(), o.conn, v)
}

func handleOperator(registry *callbridge.Registry, logger callbridge.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("operator ws accept failed", "error", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "operator disconnected")

		session := callbridge.NewOperatorSession(registry, logger)
		if err := session.Run(&operatorConn{conn: c}); err != nil {
			logger.Info("operator session ended", "error", err)
		}
	}
}
