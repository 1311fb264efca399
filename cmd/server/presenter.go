package main

import (
	"context"
	"log/slog"

	"enforce/internal/enforce"
)

// logPresenter is the headless presenter used by the server. It records
// what would be shown and hands the surface back to nobody, so it is
// collected and never blocks the next request.
type logPresenter struct {
	logger *slog.Logger
}

func (p logPresenter) PresentBanner(ctx context.Context, req enforce.BannerRequest) (*enforce.Surface, error) {
	surface := enforce.NewSurface(enforce.SurfaceBanner)
	p.logger.InfoContext(ctx, "banner requested",
		"surface_id", surface.ID,
		"client", req.ClientName,
		"appearance", req.Appearance.String(),
		"accept_all", req.Banner.AcceptAll.Shown(),
		"reject_all", req.Banner.RejectAll.Shown(),
		"open_modal", req.Banner.OpenModal.Shown(),
		"categories", req.Translation.Categories(),
	)
	return surface, nil
}

func (p logPresenter) PresentModal(ctx context.Context, req enforce.ModalRequest) (*enforce.Surface, error) {
	surface := enforce.NewSurface(enforce.SurfaceModal)
	p.logger.InfoContext(ctx, "modal requested",
		"surface_id", surface.ID,
		"client", req.ClientName,
		"appearance", req.Appearance.String(),
		"title", req.Translation.ConsentTitle,
		"save", req.Modal.SaveModal.Shown(),
		"categories", req.Translation.Categories(),
	)
	return surface, nil
}
