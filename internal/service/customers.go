package service

import (
	"context"
	"fmt"
	"strings"

	"loja/backend/internal/domain"
	"loja/backend/internal/store"
)

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	customer, err := customerFromRequest(req)
	if err != nil {
		return domain.Customer{}, err
	}
	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", fmt.Sprint(created.ID), created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id int64, req domain.CustomerRequest) (domain.Customer, error) {
	customer, err := customerFromRequest(req)
	if err != nil {
		return domain.Customer{}, err
	}

	var saved *domain.Customer
	err = s.repo.WithinTx(ctx, func(tx store.Repository) error {
		existing, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		customer.ID = existing.ID
		customer.Photo = existing.Photo
		saved, err = tx.UpdateCustomer(ctx, customer)
		return err
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", fmt.Sprint(saved.ID), saved.Name)
	return *saved, nil
}

// DeleteCustomer keeps the customer's transactions; they retain the old customer id.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", fmt.Sprint(id), "")
	return nil
}

func (s *Service) SetCustomerPhoto(ctx context.Context, id int64, photo string) (domain.Customer, error) {
	var saved *domain.Customer
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		customer, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		customer.Photo = photo
		saved, err = tx.UpdateCustomer(ctx, *customer)
		return err
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *saved, nil
}

// CustomerHistory lists the customer's transactions, newest first.
func (s *Service) CustomerHistory(ctx context.Context, id int64) ([]domain.Transaction, error) {
	if _, err := s.repo.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, store.TransactionFilter{CustomerID: id, Order: store.OrderNewest})
}

func customerFromRequest(req domain.CustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, store.Invalid("name is required")
	}
	return domain.Customer{
		Name:        name,
		Phone:       strings.TrimSpace(req.Phone),
		Address:     strings.TrimSpace(req.Address),
		Coordinates: strings.TrimSpace(req.Coordinates),
		Note:        req.Note,
	}, nil
}
