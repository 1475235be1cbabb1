// Package httpserver exposes the entitlement API over HTTP.
package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/growthledger/internal/api"
	"github.com/and161185/growthledger/internal/convert"
	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
	"github.com/and161185/growthledger/internal/service"
)

// Server wires the entitlement service into HTTP handlers.
type Server struct {
	svc      service.EntitlementService
	log      *zap.Logger
	gatherer prometheus.Gatherer
}

// New constructs an HTTP server. A nil gatherer disables /metrics.
func New(svc service.EntitlementService, log *zap.Logger, gatherer prometheus.Gatherer) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log, gatherer: gatherer}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	// limiter keys come from the peer address, never from client-supplied headers
	_ = r.SetTrustedProxies(nil)
	r.Use(Recover(s.log), Logging(s.log), ClientAddr())

	r.GET(api.PathHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
	})
	if s.gatherer != nil {
		r.GET(api.PathMetrics, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	r.GET(api.PathVerify, s.verify)
	r.POST(api.PathOwnerUnlock, s.ownerUnlock)
	r.POST(api.PathStripeActivate, s.stripeActivate)
	r.POST(api.PathStripeVerify, s.stripeVerify)
	r.POST(api.PathStripePortal, s.stripePortal)
	r.GET(api.PathSubscriptionStatus, s.subscriptionStatus)
	return r
}

// --- Grants ---

func (s *Server) ownerUnlock(c *gin.Context) {
	var req api.UnlockRequest
	if !s.bind(c, &req) {
		return
	}
	g, err := s.svc.Resolve(c.Request.Context(), req.DeviceID, service.OwnerGrant{Passphrase: req.Key, RouteSecret: req.RouteSecret})
	s.writeGrant(c, g, err)
}

func (s *Server) stripeActivate(c *gin.Context) {
	var req api.ActivateRequest
	if !s.bind(c, &req) {
		return
	}
	g, err := s.svc.Resolve(c.Request.Context(), req.DeviceID, service.SessionGrant{SessionID: req.SessionID})
	s.writeGrant(c, g, err)
}

func (s *Server) stripeVerify(c *gin.Context) {
	var req api.RestoreRequest
	if !s.bind(c, &req) {
		return
	}
	g, err := s.svc.Resolve(c.Request.Context(), req.DeviceID, service.SubscriberGrant{Email: req.Email})
	s.writeGrant(c, g, err)
}

// --- Token routes ---

func (s *Server) verify(c *gin.Context) {
	res, err := s.svc.Verify(c.Request.Context(), bearerToken(c), c.GetHeader(api.HeaderDeviceID))
	if err != nil {
		s.writeError(c, err, true)
		return
	}
	if !res.Valid {
		s.writeError(c, &errs.IneligibleError{Status: string(res.Snapshot.Status)}, true)
		return
	}
	c.JSON(http.StatusOK, convert.ToVerifyResponse(res))
}

func (s *Server) subscriptionStatus(c *gin.Context) {
	snap, err := s.svc.SubscriptionStatus(c.Request.Context(), bearerToken(c), c.GetHeader(api.HeaderDeviceID))
	if err != nil {
		s.writeError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, convert.ToWireSnapshot(snap))
}

func (s *Server) stripePortal(c *gin.Context) {
	var req api.PortalRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(c, errs.ErrMissingFields, false)
		return
	}
	u, err := s.svc.PortalURL(c.Request.Context(), bearerToken(c), c.GetHeader(api.HeaderDeviceID), req.ReturnURL)
	if err != nil {
		s.writeError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, api.PortalResponse{URL: u})
}

// --- helpers ---

func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.writeError(c, errs.ErrMissingFields, false)
		return false
	}
	return true
}

func (s *Server) writeGrant(c *gin.Context, g model.Grant, err error) {
	if err != nil {
		s.writeError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, convert.ToGrantResponse(g))
}

// bearerToken extracts "Authorization: Bearer <token>"; empty when absent.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
