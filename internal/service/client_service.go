package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/mapper"
	"github.com/opsboard/opsboard-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ClientService struct {
	clientRepo *repository.ClientRepository
	logger     *zap.Logger
}

func NewClientService(clientRepo *repository.ClientRepository, logger *zap.Logger) *ClientService {
	return &ClientService{
		clientRepo: clientRepo,
		logger:     logger,
	}
}

func (s *ClientService) Create(ctx context.Context, req *domain.CreateClientRequest) (*domain.ClientDTO, error) {
	client := &domain.Client{
		Name:         req.Name,
		Email:        req.Email,
		BillingEmail: req.BillingEmail,
		Company:      req.Company,
		Phone:        req.Phone,
		Notes:        req.Notes,
	}

	if err := s.clientRepo.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	s.logger.Info("client created", zap.String("client_id", client.ID.String()))
	dto := mapper.ToClientDTO(client)
	return &dto, nil
}

func (s *ClientService) GetByID(ctx context.Context, id uuid.UUID) (*domain.ClientDTO, error) {
	client, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToClientDTO(client)
	return &dto, nil
}

func (s *ClientService) get(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	client, err := s.clientRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

// Update replaces contact details. The processor customer id is never changed here.
func (s *ClientService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateClientRequest) (*domain.ClientDTO, error) {
	client, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	client.Name = req.Name
	client.Email = req.Email
	client.BillingEmail = req.BillingEmail
	client.Company = req.Company
	client.Phone = req.Phone
	client.Notes = req.Notes

	if err := s.clientRepo.Update(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}

	dto := mapper.ToClientDTO(client)
	return &dto, nil
}

func (s *ClientService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	inUse, err := s.clientRepo.HasDependents(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check client dependents: %w", err)
	}
	if inUse {
		return ErrClientInUse
	}
	if err := s.clientRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

func (s *ClientService) List(ctx context.Context, page, pageSize int, search string) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)
	clients, total, err := s.clientRepo.List(ctx, page, pageSize, search)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	dtos := make([]domain.ClientDTO, len(clients))
	for i := range clients {
		dtos[i] = mapper.ToClientDTO(&clients[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// Search finds clients by name or company, used by the chat front-end
func (s *ClientService) Search(ctx context.Context, query string, limit int) ([]domain.ClientDTO, error) {
	clients, err := s.clientRepo.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search clients: %w", err)
	}
	dtos := make([]domain.ClientDTO, len(clients))
	for i := range clients {
		dtos[i] = mapper.ToClientDTO(&clients[i])
	}
	return dtos, nil
}
