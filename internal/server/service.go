package server

import (
	"context"

	"github.com/matt-riley/engage/internal/repository"
	"github.com/matt-riley/engage/internal/service"
)

type Service interface {
	Connect(ctx context.Context, req service.TriggerRequest) ([]service.Engagement, error)
	CreateEngageMessage(ctx context.Context, message repository.EngageMessage) (repository.EngageMessage, error)
	UpdateEngageMessage(ctx context.Context, message repository.EngageMessage) (repository.EngageMessage, error)
	GetEngageMessage(ctx context.Context, id string) (repository.EngageMessage, error)
	ListEngageMessages(ctx context.Context, brandID string) ([]repository.EngageMessage, error)
	DeleteEngageMessage(ctx context.Context, id string) error
	SetEngageMessageLive(ctx context.Context, id string, isLive bool) (repository.EngageMessage, error)
}

var _ Service = (*service.Service)(nil)
