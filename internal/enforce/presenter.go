package enforce

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"enforce/internal/environment"
)

//go:generate mockgen -source=presenter.go -destination=mocks/presenter.go -package=mocks Presenter

// Beacon extras tagging which surface produced a consent change.
const (
	ExtraBannerViewed = "BANNER_VIEWED"
	ExtraModalViewed  = "MODAL_VIEWED"
)

// SurfaceKind names a presented UI surface.
type SurfaceKind string

const (
	SurfaceBanner SurfaceKind = "banner"
	SurfaceModal  SurfaceKind = "modal"
)

// Surface is a UI element owned by the presentation layer. The coordinator
// only holds a weak reference, so a surface the presenter drops is
// collected and no longer blocks the next request.
type Surface struct {
	ID        string
	Kind      SurfaceKind
	dismissed atomic.Bool
}

func NewSurface(kind SurfaceKind) *Surface {
	return &Surface{ID: uuid.NewString(), Kind: kind}
}

// Dismiss marks the surface closed.
func (s *Surface) Dismiss() {
	s.dismissed.Store(true)
}

func (s *Surface) Dismissed() bool {
	return s.dismissed.Load()
}

type BannerRequest struct {
	ClientName  string
	Translation environment.Translation
	Banner      environment.BannerConfig
	Modal       environment.ConsentModalConfig
	Appearance  Appearance
}

type ModalRequest struct {
	ClientName  string
	Translation environment.Translation
	Modal       environment.ConsentModalConfig
	Appearance  Appearance
}

// Presenter shows consent UI. Implementations report the user's choice back
// through Coordinator.SetConsentWithExtras.
type Presenter interface {
	PresentBanner(ctx context.Context, req BannerRequest) (*Surface, error)
	PresentModal(ctx context.Context, req ModalRequest) (*Surface, error)
}
