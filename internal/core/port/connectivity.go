package port

import (
	"context"

	"github.com/Wyydra/duo/internal/core/domain"
)

// ConnectivityEngine produces and applies session descriptions for one call
// session. Path discovery and media transport happen behind it.
type ConnectivityEngine interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	// CreateAnswer applies the remote offer and returns the local answer.
	CreateAnswer(ctx context.Context, remote domain.SessionDescription) (domain.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	// Rollback discards a local offer that has not been answered.
	Rollback(ctx context.Context) error
	// OnLocalMediaChanged registers the callback fired when local tracks change
	// and a new offer/answer exchange is needed.
	OnLocalMediaChanged(fn func())
	Close() error
}

// ConnectivityFactory creates one ConnectivityEngine per call session.
type ConnectivityFactory interface {
	NewConnectivity(ctx context.Context) (ConnectivityEngine, error)
}
