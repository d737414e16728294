package checkout

import (
	"fmt"
	"time"

	"github.com/jaevor/go-nanoid"
)

const (
	referencePrefix   = "grundy"
	referenceAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	referenceIDLength = 9
)

// NewReferenceGenerator возвращает генератор ссылок вида grundy_<unix-ms>_<9 символов>.
func NewReferenceGenerator(now func() time.Time) (func() string, error) {
	if now == nil {
		now = time.Now
	}
	id, err := nanoid.CustomASCII(referenceAlphabet, referenceIDLength)
	if err != nil {
		return nil, fmt.Errorf("init reference generator: %w", err)
	}
	return func() string {
		return fmt.Sprintf("%s_%d_%s", referencePrefix, now().UnixMilli(), id())
	}, nil
}
