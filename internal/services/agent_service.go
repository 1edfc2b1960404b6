package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
	"github.com/prudhvinik1/offlinesync/internal/utils"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrEmailExists   = errors.New("email already exists")
)

// AgentService manages the agents that own records and sync devices.
type AgentService struct {
	agents repositories.AgentRepository
	auth   *AuthService
}

func NewAgentService(agents repositories.AgentRepository, auth *AuthService) *AgentService {
	return &AgentService{agents: agents, auth: auth}
}

type CreateAgentRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateAgentRequest struct {
	Name string `json:"name"`
	// Password is only changed when set.
	Password string `json:"password,omitempty"`
}

func (s *AgentService) Create(ctx context.Context, req CreateAgentRequest) (*models.Agent, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrInvalidRequest)
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	agent := &models.Agent{Name: req.Name, Email: email, PasswordHash: hash}
	err = s.agents.Create(ctx, agent)
	if errors.Is(err, repositories.ErrEmailExists) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	log.Info("agent created", "agentId", agent.ID)
	return agent, nil
}

func (s *AgentService) Get(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	agent, err := s.agents.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

func (s *AgentService) ListActive(ctx context.Context) ([]*models.Agent, error) {
	agents, err := s.agents.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	if agents == nil {
		agents = []*models.Agent{}
	}
	return agents, nil
}

func (s *AgentService) Update(ctx context.Context, id uuid.UUID, req UpdateAgentRequest) (*models.Agent, error) {
	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		agent.Name = req.Name
	}
	if req.Password != "" {
		hash, err := utils.HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		agent.PasswordHash = hash
	}

	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	return agent, nil
}

// Deactivate soft-deletes an agent and closes its sessions. Its records
// stay in the store, but later pushes referencing it are rejected.
func (s *AgentService) Deactivate(ctx context.Context, id uuid.UUID) error {
	err := s.agents.Deactivate(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to deactivate agent: %w", err)
	}

	if s.auth != nil {
		if err := s.auth.LogoutAll(ctx, id); err != nil {
			log.Warn("failed to close sessions of deactivated agent", "agentId", id, "err", err)
		}
	}
	log.Info("agent deactivated", "agentId", id)
	return nil
}
