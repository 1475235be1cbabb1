package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/growthledger/internal/api"
	"github.com/and161185/growthledger/internal/convert"
	"github.com/and161185/growthledger/internal/errs"
)

type errorKind struct {
	status int
	msg    string
}

// kinds maps wire codes to HTTP status and the message shown to users.
var kinds = map[string]errorKind{
	api.CodeInvalidCredential:   {http.StatusUnauthorized, "invalid key"},
	api.CodeForbidden:           {http.StatusForbidden, "forbidden"},
	api.CodeMissingFields:       {http.StatusBadRequest, "missing required fields"},
	api.CodePaymentIncomplete:   {http.StatusPaymentRequired, "payment not completed"},
	api.CodeMissingSubscription: {http.StatusBadRequest, "no subscription found for this checkout"},
	api.CodeNotEligible:         {http.StatusUnauthorized, "subscription is not active"},
	api.CodeNotFound:            {http.StatusNotFound, "not found"},
	api.CodeNoActiveSub:         {http.StatusPaymentRequired, "no active subscription"},
	api.CodeInvalidToken:        {http.StatusUnauthorized, "invalid token"},
	api.CodeTokenExpired:        {http.StatusUnauthorized, "token expired"},
	api.CodeDeviceMismatch:      {http.StatusUnauthorized, "token was issued to another device"},
	api.CodeUpstreamUnavailable: {http.StatusServiceUnavailable, "billing is temporarily unavailable"},
	api.CodeRateLimited:         {http.StatusTooManyRequests, "too many attempts, try again later"},
}

// writeError answers with the status and body for err. withValid adds valid:false
// for the verify routes.
func (s *Server) writeError(c *gin.Context, err error, withValid bool) {
	code := convert.ErrorCode(err)
	kind, ok := kinds[code]
	if !ok {
		s.log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		kind = errorKind{http.StatusInternalServerError, "internal error"}
	}

	body := api.ErrorResponse{Error: kind.msg, Code: code}
	if withValid {
		f := false
		body.Valid = &f
	}
	var ie *errs.IneligibleError
	if errors.As(err, &ie) {
		body.Status = ie.Status
	}
	c.AbortWithStatusJSON(kind.status, body)
}
