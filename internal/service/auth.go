package service

import (
	"slices"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/signing"
)

// authenticate checks the caller of /handshake. With mTLS required only a
// verified, allowlisted client certificate is accepted; otherwise the raw
// body must carry a valid HMAC.
func (s *Service) authenticate(in *domain.InboundRequest) bool {
	if s.config.MTLSRequired {
		return s.peerAllowed(in.Peer)
	}
	return s.signatureValid(in)
}

// autoAuthorized checks whether a /command caller may trigger execution.
// A verified client certificate is preferred; HMAC is a fallback only when
// explicitly enabled.
func (s *Service) autoAuthorized(in *domain.InboundRequest) bool {
	if in.Peer != nil && in.Peer.Verified {
		return s.peerAllowed(in.Peer)
	}
	if s.config.AutoAllowHMAC {
		return s.signatureValid(in)
	}
	return false
}

func (s *Service) peerAllowed(peer *domain.PeerInfo) bool {
	if peer == nil || !peer.Verified {
		return false
	}
	if len(s.config.MTLSClientCNAllowlist) == 0 {
		return true
	}
	return peer.CommonName != "" && slices.Contains(s.config.MTLSClientCNAllowlist, peer.CommonName)
}

func (s *Service) signatureValid(in *domain.InboundRequest) bool {
	if s.config.SharedSecret == "" || in.Signature == "" {
		return false
	}
	return signing.VerifyHeader(in.Raw, in.Signature, s.config.Secret())
}
