package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
)

// Исходы выпуска счёта для метрик.
const (
	accountReused = "reused"
	accountIssued = "issued"
	accountFailed = "failed"
)

// ensureVirtualAccount находит или выпускает счёт для заказа и сохраняет его в заказ.
// Выпуск сериализуется по email, поэтому два заказа одного клиента получают один счёт.
func (s *Service) ensureVirtualAccount(ctx context.Context, order domain.Order) (*domain.VirtualAccount, error) {
	unlock := s.lockEmail(order.Customer.Email)
	defer unlock()

	logger := s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"reference": order.PaymentReference,
	})

	customer, err := s.gateway.EnsureCustomer(ctx, order.Customer)
	if err != nil {
		s.metrics.RecordDedicatedAccount(accountFailed)
		logger.WithError(err).Error("resolve gateway customer failed")
		return nil, err
	}
	logger = logger.WithField("customer_code", customer.Code)

	va, outcome, err := s.reuseOrIssue(ctx, customer, logger)
	if err != nil {
		s.metrics.RecordDedicatedAccount(accountFailed)
		return nil, err
	}

	updated, _, err := s.ledger.Mutate(ctx, order.ID, func(current domain.Order) (*ledger.OrderPatch, error) {
		if current.VirtualAccount != nil {
			return nil, nil
		}
		return &ledger.OrderPatch{VirtualAccount: &va, Reason: "virtual account " + outcome}, nil
	})
	if err != nil {
		logger.WithError(err).Error("persist virtual account failed")
		return nil, err
	}
	s.metrics.RecordDedicatedAccount(outcome)
	logger.WithFields(log.Fields{
		"account_number": updated.VirtualAccount.AccountNumber,
		"bank":           updated.VirtualAccount.BankName,
		"outcome":        outcome,
	}).Info("virtual account attached to order")
	return updated.VirtualAccount, nil
}

func (s *Service) reuseOrIssue(ctx context.Context, customer domain.GatewayCustomer, logger *log.Entry) (domain.VirtualAccount, string, error) {
	existing, err := s.gateway.ListDedicatedAccounts(ctx, customer.Code)
	if err != nil {
		logger.WithError(err).Error("list dedicated accounts failed")
		return domain.VirtualAccount{}, "", err
	}
	for _, va := range existing {
		if va.Active {
			return va, accountReused, nil
		}
	}

	primary, alternate, err := s.chooseProviders(ctx)
	if err != nil {
		logger.WithError(err).Error("no dedicated account provider")
		return domain.VirtualAccount{}, "", err
	}

	va, err := s.gateway.CreateDedicatedAccount(ctx, customer.Code, primary)
	if err == nil {
		return va, accountIssued, nil
	}
	logger.WithError(err).WithField("provider", primary).Warn("dedicated account issuance failed")
	if alternate == "" {
		return domain.VirtualAccount{}, "", err
	}

	va, altErr := s.gateway.CreateDedicatedAccount(ctx, customer.Code, alternate)
	if altErr != nil {
		logger.WithError(altErr).WithField("provider", alternate).Error("alternate provider issuance failed")
		return domain.VirtualAccount{}, "", altErr
	}
	logger.WithField("provider", alternate).Info("dedicated account issued by alternate provider")
	return va, accountIssued, nil
}

// chooseProviders возвращает основной банк и не более одного запасного.
func (s *Service) chooseProviders(ctx context.Context) (string, string, error) {
	available, err := s.gateway.AvailableProviders(ctx)
	if err != nil && s.cfg.Environment != EnvironmentTest {
		return "", "", err
	}

	var candidates []string
	if s.cfg.Environment == EnvironmentTest {
		candidates = append(candidates, TestProvider)
		for _, p := range available {
			if p != TestProvider {
				candidates = append(candidates, p)
			}
		}
	} else {
		for _, p := range s.cfg.PreferredBanks {
			if contains(available, p) {
				candidates = append(candidates, p)
			}
		}
		if len(s.cfg.PreferredBanks) == 0 {
			candidates = append(candidates, available...)
		}
	}

	if len(candidates) == 0 {
		msg := fmt.Sprintf("environment %s: preferred [%s], available [%s]",
			s.cfg.Environment, strings.Join(s.cfg.PreferredBanks, ", "), strings.Join(available, ", "))
		return "", "", &domain.GatewayError{
			Op:      "choose provider",
			Message: msg,
			Err:     domain.ErrNoDedicatedAccountProvider,
		}
	}
	if len(candidates) > 1 {
		return candidates[0], candidates[1], nil
	}
	for _, p := range available {
		if p != candidates[0] {
			return candidates[0], p, nil
		}
	}
	return candidates[0], "", nil
}

func (s *Service) lockEmail(email string) func() {
	key := strings.ToLower(strings.TrimSpace(email))
	s.issueMu.Lock()
	mu, ok := s.issueLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.issueLocks[key] = mu
	}
	s.issueMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
