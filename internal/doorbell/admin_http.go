package doorbell

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/doorlink/internal/observability"
	"github.com/danmuck/doorlink/internal/protocol/frame"
	"github.com/danmuck/doorlink/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const adminNode = "doorlink"

type recordView struct {
	Seq        uint64    `json:"seq"`
	ConnID     uint32    `json:"conn_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

type statusView struct {
	State    string        `json:"state"`
	Endpoint string        `json:"endpoint"`
	ConnID   uint32        `json:"conn_id"`
	Uptime   string        `json:"uptime"`
	Records  uint64        `json:"records"`
	Stats    session.Stats `json:"stats"`
}

type sendRequest struct {
	Text   string `json:"text"`
	Base64 string `json:"base64"`
}

// AdminRouter builds the admin HTTP surface.
func (s *Service) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger("admin")))
	r.Use(observability.RequestMetricsMiddleware(adminNode))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.Admin.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).Round(time.Second).String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", s.handleStatus)
	r.GET("/records", s.handleRecords)
	r.POST("/send", s.handleSend)
	return r
}

func (s *Service) handleStatus(c *gin.Context) {
	view := statusView{
		State:    session.StateIdle.String(),
		Endpoint: s.cfg.Endpoint.HostPort(),
		ConnID:   s.cfg.Endpoint.ConnID,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Records:  s.records.Total(),
	}
	if sess := s.Session(); sess != nil {
		view.State = sess.State().String()
		view.Stats = sess.Stats()
	}
	c.JSON(http.StatusOK, view)
}

func (s *Service) handleRecords(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recent := s.records.Recent(limit)
	out := make([]recordView, 0, len(recent))
	for _, rec := range recent {
		out = append(out, recordView{
			Seq:        rec.Seq,
			ConnID:     rec.ConnID,
			Text:       rec.Text,
			ReceivedAt: rec.ReceivedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (s *Service) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.Text == "") == (req.Base64 == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of text or base64 is required"})
		return
	}
	payload := []byte(req.Text)
	if req.Base64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Base64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base64 payload"})
			return
		}
		payload = decoded
	}

	sess := s.Session()
	if sess == nil {
		c.JSON(http.StatusConflict, gin.H{"error": session.ErrNotStarted.Error()})
		return
	}
	if err := sess.Send(payload); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, session.ErrNotStarted):
			status = http.StatusConflict
		case errors.Is(err, frame.ErrRecordTooLarge):
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bytes": len(payload)})
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("doorbell.Service.serveAdmin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("doorbell.Service.serveAdmin shutdown")
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
