package checkout

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SubaccountFor возвращает сабаккаунт мерчанта или сабаккаунт по умолчанию.
func (s *Service) SubaccountFor(merchant string) string {
	if code, ok := s.cfg.MerchantSubaccounts[merchant]; ok {
		return code
	}
	return s.cfg.DefaultSubaccount
}

// SplitCodeFor создаёт процентный сплит для мерчанта или возвращает закэшированный.
// Мерчант получает 100 - PlatformFeePercent процентов и несёт комиссии шлюза.
func (s *Service) SplitCodeFor(ctx context.Context, merchant, orderID string) (domain.SplitConfig, error) {
	merchant = strings.TrimSpace(merchant)
	if merchant == "" {
		return domain.SplitConfig{}, domain.NewValidationError(errMerchantRequired)
	}

	s.splitMu.Lock()
	defer s.splitMu.Unlock()
	if code, ok := s.splitCodes[merchant]; ok {
		return domain.SplitConfig{SplitCode: code, Name: splitName(merchant)}, nil
	}

	subaccount := s.SubaccountFor(merchant)
	split, err := s.gateway.CreateSplit(ctx, domain.SplitRequest{
		Name:             splitName(merchant),
		Currency:         s.cfg.Currency,
		SubaccountCode:   subaccount,
		MerchantShare:    100 - domain.PlatformFeePercent,
		BearerType:       "subaccount",
		BearerSubaccount: subaccount,
	})
	if err != nil {
		return domain.SplitConfig{}, err
	}
	s.splitCodes[merchant] = split.SplitCode
	s.logger.WithFields(log.Fields{
		"merchant":   merchant,
		"order_id":   orderID,
		"split_code": split.SplitCode,
	}).Info("split configured for merchant")
	return split, nil
}

func splitName(merchant string) string {
	return "Grundy split: " + merchant
}
