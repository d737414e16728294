// Package grpcsvc — gRPC API реестра заказов для панели диспетчера.
package grpcsvc

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
)

const defaultListOrdersLimit = 100

// LedgerService реализует LedgerServer поверх Ledger.
type LedgerService struct {
	ledger *ledger.Ledger
	logger *log.Entry
}

// NewLedgerService конструирует сервис.
func NewLedgerService(l *ledger.Ledger, logger *log.Entry) *LedgerService {
	if logger == nil {
		logger = log.New().WithField("component", "ledger-grpc")
	}
	return &LedgerService{ledger: l, logger: logger}
}

// GetOrder возвращает заказ и его таймлайн.
func (s *LedgerService) GetOrder(ctx context.Context, orderID string) (OrderDetails, error) {
	if strings.TrimSpace(orderID) == "" {
		return OrderDetails{}, status.Error(codes.InvalidArgument, "order id is required")
	}
	order, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return OrderDetails{}, s.toStatus(err, "GetOrder", orderID)
	}
	timeline, err := s.ledger.Timeline(ctx, order.ID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to load timeline")
	}
	return OrderDetails{Order: order, Timeline: timeline}, nil
}

// ListOrders возвращает заказы по фильтру; без limit — не больше defaultListOrdersLimit.
func (s *LedgerService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListOrdersLimit
	}
	orders, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, s.toStatus(err, "ListOrders", "")
	}
	return orders, nil
}

// WatchOrders отправляет снимок подходящих заказов при подписке и после каждого изменения.
// Поток живёт, пока клиент его не отменит.
func (s *LedgerService) WatchOrders(filter domain.OrderFilter, stream SnapshotStream) error {
	ctx := stream.Context()
	updates, err := s.ledger.Subscribe(ctx, filter.Match)
	if err != nil {
		return s.toStatus(err, "WatchOrders", "")
	}

	logger := s.logger.WithFields(log.Fields{
		"email":     filter.Email,
		"status":    filter.Status,
		"reference": filter.Reference,
	})
	logger.Debug("order watch started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("order watch cancelled by client")
			return nil
		case orders, ok := <-updates:
			if !ok {
				return nil
			}
			if filter.Limit > 0 && len(orders) > filter.Limit {
				orders = orders[:filter.Limit]
			}
			if err := stream.Send(orders); err != nil {
				logger.WithError(err).Debug("order watch send failed")
				return err
			}
		}
	}
}

func (s *LedgerService) toStatus(err error, operation, orderID string) error {
	code := codeFor(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
	})
	if code == codes.Internal {
		entry.Error("ledger request failed")
		return status.Error(codes.Internal, "internal error")
	}
	entry.Debug("ledger request rejected")
	return status.Error(code, err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrOrderNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrInvalidTransition):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrGateway):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

var _ LedgerServer = (*LedgerService)(nil)
