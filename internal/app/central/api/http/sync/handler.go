package sync

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"ehrsync/internal/domain/central"
	"ehrsync/internal/domain/sync"
)

type Handler struct {
	service    central.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service central.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.startSessionOp(), h.startSession)
	huma.Register(api, h.endSessionOp(), h.endSession)
	huma.Register(api, h.markErroredOp(), h.markErrored)
	huma.Register(api, h.pushOp(), h.push)
	huma.Register(api, h.completePushOp(), h.completePush)
	huma.Register(api, h.initiatePullOp(), h.initiatePull)
	huma.Register(api, h.pullOp(), h.pull)
}

func (h *Handler) startSession(ctx context.Context, _ *startSessionInput) (*startSessionOutput, error) {
	session, err := h.service.StartSession(ctx)
	if err != nil {
		return nil, h.toHTTPError(err)
	}
	return &startSessionOutput{
		Body: StartSessionResponse{
			SessionID: session.ID,
			Tick:      session.StartedAtTick.String(),
		},
	}, nil
}

func (h *Handler) endSession(ctx context.Context, input *sessionInput) (*struct{}, error) {
	if err := h.service.EndSession(ctx, input.SessionID); err != nil {
		return nil, h.toHTTPError(err)
	}
	return nil, nil
}

func (h *Handler) markErrored(ctx context.Context, input *erroredInput) (*struct{}, error) {
	if err := h.service.MarkErrored(ctx, input.SessionID, input.Body.Message); err != nil {
		return nil, h.toHTTPError(err)
	}
	return nil, nil
}

func (h *Handler) push(ctx context.Context, input *pushInput) (*struct{}, error) {
	progress := sync.PushProgress{
		PushedSoFar: input.Body.PushedSoFar,
		TotalToPush: input.Body.TotalToPush,
	}
	if err := h.service.AddIncomingChanges(ctx, input.SessionID, input.Body.Changes, progress); err != nil {
		return nil, h.toHTTPError(err)
	}
	return nil, nil
}

func (h *Handler) completePush(ctx context.Context, input *sessionInput) (*struct{}, error) {
	if err := h.service.CompletePush(ctx, input.SessionID); err != nil {
		return nil, h.toHTTPError(err)
	}
	return nil, nil
}

func (h *Handler) initiatePull(ctx context.Context, input *initiatePullInput) (*initiatePullOutput, error) {
	since, err := sync.ParseTick(input.Body.Since)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid since", err)
	}

	window, err := h.service.InitiatePull(ctx, input.SessionID, since)
	if err != nil {
		return nil, h.toHTTPError(err)
	}
	return &initiatePullOutput{
		Body: InitiatePullResponse{
			TotalToPull: window.TotalToPull,
			PullUntil:   window.PullUntil.String(),
		},
	}, nil
}

func (h *Handler) pull(ctx context.Context, input *pullInput) (*pullOutput, error) {
	changes, err := h.service.OutgoingChanges(ctx, input.SessionID, input.Offset, input.Limit)
	if err != nil {
		return nil, h.toHTTPError(err)
	}
	if changes == nil {
		changes = []sync.Change{}
	}
	return &pullOutput{Body: sync.PullResponse{Changes: changes}}, nil
}

// toHTTPError отображает ошибки сервиса на коды ответа
func (h *Handler) toHTTPError(err error) error {
	switch {
	case errors.Is(err, central.ErrSessionNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, central.ErrSessionErrored),
		errors.Is(err, central.ErrSessionCompleted),
		errors.Is(err, central.ErrSessionTimedOut):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, central.ErrInvalidPage):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, context.Canceled):
		return huma.Error503ServiceUnavailable("request canceled")
	}
	h.log.Error("sync request failed", "error", err)
	return huma.Error500InternalServerError("internal server error")
}
