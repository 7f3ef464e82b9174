package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/strataops/relay-client-go/internal/config"
	"github.com/strataops/relay-client-go/internal/wire"
	"github.com/strataops/relay-client-go/pkg/logger"
	"github.com/strataops/relay-client-go/pkg/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	// Initialize logger
	log := logger.New()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// The probe answers its own client: an echo endpoint that replies to
	// pings and mirrors everything else back.
	addr := fmt.Sprintf("%s:%d", cfg.Probe.Host, cfg.Probe.Port)
	cfg.Connection.PrimaryURL = "ws://" + addr

	// Create relay client
	client, err := relay.New(*cfg, nil, log)
	if err != nil {
		log.Fatal("Failed to create relay client:", err)
	}

	// Setup HTTP surface
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws/:session", func(c *gin.Context) {
		serveEcho(c, log)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "connected": client.IsConnected()})
	})
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, client.ConnectionStats())
	})
	router.GET("/performance", func(c *gin.Context) {
		c.JSON(http.StatusOK, client.PerformanceMetrics())
	})
	router.GET("/diagnostics", func(c *gin.Context) {
		c.JSON(http.StatusOK, client.DiagnosticReport())
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start HTTP server
	go func() {
		log.WithField("addr", addr).Info("Probe server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Connect the client against our own echo endpoint
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := client.Connect(ctx); err != nil {
		log.WithError(err).Warn("Initial connect failed, reconnection continues in background")
	}
	cancel()

	// Schedule periodic diagnostic reports
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Probe.ReportSchedule, func() {
		client.PublishMetrics()
		report := client.DiagnosticReport()
		entry := log.WithFields(logrus.Fields{
			"connected":       client.IsConnected(),
			"quality":         report.Quality,
			"queue_depth":     report.QueueDepth,
			"average_latency": report.AverageLatency,
			"memory_bytes":    report.MemoryBytes,
		})
		if len(report.Recommendations) > 0 {
			entry.WithField("recommendations", report.Recommendations).Warn("Diagnostic report")
		} else {
			entry.Info("Diagnostic report")
		}
	})
	if err != nil {
		log.Fatal("Failed to schedule diagnostic reports:", err)
	}
	scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down probe...")
	scheduler.Stop()
	client.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	log.Info("Probe exited")
}

// serveEcho upgrades the connection and mirrors client traffic: pings get a
// pong echoing the client timestamp, everything else is echoed unchanged.
func serveEcho(c *gin.Context, log *logrus.Logger) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	session := c.Param("session")
	log.WithField("session", session).Info("Echo session opened")

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			log.WithField("session", session).Debug("Echo session closed")
			return
		}
		env, err := wire.Decode(raw)
		if err != nil {
			log.WithError(err).Debug("Ignoring unparseable frame")
			continue
		}

		reply := env
		if env.Type == wire.EventPing {
			reply.Type = wire.EventPong
			reply.Timestamp = time.Now().UnixMilli()
		}
		out, err := reply.Encode()
		if err != nil {
			continue
		}
		if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}
