package catalog

import "errors"

var (
	// ErrUnknownProduct — товара нет в каталоге.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrProductUnavailable — товар снят с продажи.
	ErrProductUnavailable = errors.New("product unavailable")
)
