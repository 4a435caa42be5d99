package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/stats"
)

// Sources are the live views the status endpoints read from. Every func must
// be safe for concurrent use; nil funcs render as empty values.
type Sources struct {
	States     func() map[string]string
	Depths     func() map[string]int
	Totals     func() stats.Totals
	Price      func() models.PriceInfo
	Detections func() []models.ODLDetection
}

// Server hosts the Gin-powered status API.
type Server struct {
	cfg        config.DashboardConfig
	app        string
	version    string
	sources    Sources
	httpServer *http.Server
	log        *logger.Log
}

// NewServer constructs a status server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, app, version string, sources Sources) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	return &Server{
		cfg:     cfg,
		app:     app,
		version: version,
		sources: sources,
		log:     logger.GetLogger(),
	}
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/api/status", func(c *gin.Context) {
		totals := s.totals()
		price := s.price()
		c.JSON(http.StatusOK, gin.H{
			"app":         s.app,
			"version":     s.version,
			"connections": s.states(),
			"queues":      s.depths(),
			"price": gin.H{
				"last":       price.Last,
				"fetched_at": price.FetchedAt,
			},
			"window": gin.H{
				"count": totals.Count,
				"xrp":   totals.TotalXRP,
				"usd":   totals.TotalUSD,
			},
		})
	})

	router.GET("/api/detections", func(c *gin.Context) {
		detections := s.detections()
		payload := make([]gin.H, 0, len(detections))
		for _, det := range detections {
			payload = append(payload, gin.H{
				"xrp":  det.Quantity,
				"usd":  det.USDValue,
				"time": det.DetectedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"detections": payload})
	})

	return router, nil
}

func (s *Server) states() map[string]string {
	if s.sources.States == nil {
		return map[string]string{}
	}
	return s.sources.States()
}

func (s *Server) depths() map[string]int {
	if s.sources.Depths == nil {
		return map[string]int{}
	}
	return s.sources.Depths()
}

func (s *Server) totals() stats.Totals {
	if s.sources.Totals == nil {
		return stats.Totals{}
	}
	return s.sources.Totals()
}

func (s *Server) price() models.PriceInfo {
	if s.sources.Price == nil {
		return models.PriceInfo{}
	}
	return s.sources.Price()
}

func (s *Server) detections() []models.ODLDetection {
	if s.sources.Detections == nil {
		return nil
	}
	return s.sources.Detections()
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
