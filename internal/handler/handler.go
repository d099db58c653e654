package handler

import (
	"kerjabareng/internal/config"
	"kerjabareng/internal/service"
)

type Handlers struct {
	Opportunity  *OpportunityHandler
	Application  *ApplicationHandler
	Conversation *ConversationHandler
	User         *UserHandler
	Dev          *DevHandler
}

func NewHandlers(services *service.Services, cfg *config.Config) *Handlers {
	return &Handlers{
		Opportunity:  NewOpportunityHandler(services.Workflow, cfg),
		Application:  NewApplicationHandler(services.Workflow, cfg),
		Conversation: NewConversationHandler(services.Messaging, cfg),
		User:         NewUserHandler(services.Directory, services.Media),
		Dev:          NewDevHandler(services.Workflow),
	}
}
