package service

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"loja/backend/internal/domain"
	"loja/backend/internal/store"
)

const (
	monthLayout   = "2006-01"
	topItemsLimit = 5
)

// MonthlyReport sums sales and rentals created in month (YYYY-MM, default current)
// and ranks item names by quantity across every transaction of the month.
func (s *Service) MonthlyReport(ctx context.Context, month string) (domain.MonthlyReport, error) {
	from, to, err := s.monthRange(month)
	if err != nil {
		return domain.MonthlyReport{}, err
	}

	txs, err := s.repo.ListTransactions(ctx, store.TransactionFilter{From: from, To: to, Order: store.OrderOldest})
	if err != nil {
		return domain.MonthlyReport{}, err
	}

	report := domain.MonthlyReport{Month: from.Format(monthLayout), TopItems: []domain.PopularItem{}}
	quantities := map[string]int{}
	for _, tx := range txs {
		switch tx.Kind {
		case domain.KindSale:
			report.SalesCents += tx.TotalCents
		case domain.KindRental:
			report.RentalsCents += tx.TotalCents
		}
		for _, item := range tx.Items {
			quantities[item.Name] += item.Quantity
		}
	}
	report.TotalCents = report.SalesCents + report.RentalsCents

	for name, qty := range quantities {
		report.TopItems = append(report.TopItems, domain.PopularItem{Name: name, Quantity: qty})
	}
	slices.SortFunc(report.TopItems, func(a, b domain.PopularItem) int {
		return cmp.Or(cmp.Compare(b.Quantity, a.Quantity), strings.Compare(a.Name, b.Name))
	})
	if len(report.TopItems) > topItemsLimit {
		report.TopItems = report.TopItems[:topItemsLimit]
	}
	return report, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	report, err := s.MonthlyReport(ctx, "")
	if err != nil {
		return domain.Dashboard{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		return domain.Dashboard{}, err
	}

	return domain.Dashboard{
		Month:            report.Month,
		SalesCents:       report.SalesCents,
		RentalsCents:     report.RentalsCents,
		TotalCents:       report.TotalCents,
		ProductCount:     len(products),
		CustomerCount:    len(customers),
		TransactionCount: len(txs),
	}, nil
}

func (s *Service) monthRange(month string) (time.Time, time.Time, error) {
	now := s.now()
	if strings.TrimSpace(month) == "" {
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return from, from.AddDate(0, 1, 0), nil
	}
	from, err := time.ParseInLocation(monthLayout, strings.TrimSpace(month), now.Location())
	if err != nil {
		return time.Time{}, time.Time{}, store.Invalid("month must be YYYY-MM")
	}
	return from, from.AddDate(0, 1, 0), nil
}
