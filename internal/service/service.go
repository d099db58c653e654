package service

import (
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kerjabareng/internal/config"
	"kerjabareng/internal/service/directory"
	"kerjabareng/internal/service/media"
	"kerjabareng/internal/service/messaging"
	"kerjabareng/internal/service/workflow"
	"kerjabareng/internal/store"
)

type Services struct {
	Directory directory.Service
	Media     media.Service
	Messaging messaging.Service
	Workflow  workflow.Service
}

func NewServices(st store.Store, redisClient *redis.Client, minioClient *minio.Client, cfg *config.Config, logger *zap.Logger) *Services {
	directoryService := directory.NewService(redisClient)
	mediaService := media.NewService(minioClient, cfg)
	messagingService := messaging.NewService(st, directoryService, logger.Named("messaging"))
	workflowService := workflow.NewService(st, messagingService, logger.Named("workflow"))

	return &Services{
		Directory: directoryService,
		Media:     mediaService,
		Messaging: messagingService,
		Workflow:  workflowService,
	}
}

// Close releases every live subscription the services hold.
func (s *Services) Close() {
	s.Workflow.Close()
	s.Messaging.Close()
}
