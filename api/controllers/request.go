package controllers

import (
	"net/http"
	"strings"

	"github.com/threadline/settlement-backend/api/middleware"
	"github.com/threadline/settlement-backend/internal/risk"
)

const (
	HeaderDeviceID  = "X-Device-Id"
	HeaderSessionID = "X-Session-Id"
	// HeaderEdgeCountry is written by the CDN edge.
	HeaderEdgeCountry = "CF-IPCountry"
)

// unknownEdgeCountry is what the edge reports when it cannot geolocate.
const unknownEdgeCountry = "XX"

// RiskRequest collects the network and device signals the risk evaluator scores.
// Retry counts are derived server side from stored payment attempts.
func RiskRequest(r *http.Request) risk.RequestContext {
	country := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderEdgeCountry)))
	if country == unknownEdgeCountry {
		country = ""
	}
	return risk.RequestContext{
		IPAddress: middleware.ClientIP(r),
		IPCountry: country,
		DeviceID:  strings.TrimSpace(r.Header.Get(HeaderDeviceID)),
		SessionID: strings.TrimSpace(r.Header.Get(HeaderSessionID)),
	}
}
