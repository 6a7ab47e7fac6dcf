// Package management provides the HTTP handlers for the management receiver.
package management

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/service"
	"github.com/xiaot623/gogo/mgmt/internal/signing"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Handler handles management HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers management routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/management")
	g.POST("/handshake", h.Handshake)
	g.POST("/command", h.Command)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// Handshake handles a signed CommandRequest.
func (h *Handler) Handshake(c echo.Context) error {
	in, err := inbound(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.Handshake(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Command handles a free-text command.
func (h *Handler) Command(c echo.Context) error {
	in, err := inbound(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.Command(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// inbound reads the raw body once so the signature is checked against the
// exact bytes that were sent.
func inbound(c echo.Context) (*domain.InboundRequest, error) {
	req := c.Request()
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	return &domain.InboundRequest{
		Raw:       raw,
		Signature: req.Header.Get(signing.Header),
		Peer:      peerFromTLS(req.TLS),
		Origin:    c.RealIP(),
	}, nil
}

// peerFromTLS describes the verified client certificate, if any.
func peerFromTLS(state *tls.ConnectionState) *domain.PeerInfo {
	if state == nil || len(state.VerifiedChains) == 0 || len(state.PeerCertificates) == 0 {
		return nil
	}
	leaf := state.PeerCertificates[0]
	sum := sha256.Sum256(leaf.Raw)
	return &domain.PeerInfo{
		Verified:    true,
		CommonName:  leaf.Subject.CommonName,
		Fingerprint: hex.EncodeToString(sum[:]),
	}
}

func writeError(c echo.Context, err error) error {
	var rej *domain.RejectError
	if errors.As(err, &rej) {
		return c.JSON(statusFor(rej.Code), map[string]string{"error": rej.Message})
	}

	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":  execErr.Error(),
			"output": execErr.Output,
		})
	}

	c.Logger().Errorf("management request failed: %v", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func statusFor(code domain.RejectCode) int {
	switch code {
	case domain.RejectBadRequest, domain.RejectReplay, domain.RejectUnknownCommand:
		return http.StatusBadRequest
	case domain.RejectCircuitOpen:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}
