package repositories

import "fmt"

// CatalogErrorCode enumerates repository error causes for catalog stock operations.
type CatalogErrorCode string

const (
	// CatalogErrorUnknown represents an unspecified failure.
	CatalogErrorUnknown CatalogErrorCode = "catalog_unknown"
	// CatalogErrorProductNotFound indicates the product document is missing.
	CatalogErrorProductNotFound CatalogErrorCode = "catalog_product_not_found"
	// CatalogErrorSizeNotFound indicates the product carries no inventory entry for the size.
	CatalogErrorSizeNotFound CatalogErrorCode = "catalog_size_not_found"
	// CatalogErrorInsufficientStock indicates requested quantity exceeds availability.
	CatalogErrorInsufficientStock CatalogErrorCode = "catalog_insufficient_stock"
	// CatalogErrorReservationNotFound indicates the reservation document is missing.
	CatalogErrorReservationNotFound CatalogErrorCode = "catalog_reservation_not_found"
	// CatalogErrorInvalidReservationState indicates the reservation status forbids the operation.
	CatalogErrorInvalidReservationState CatalogErrorCode = "catalog_invalid_state"
)

// CatalogError wraps catalog-specific failures with machine readable codes.
// ProductID and Size identify the offending counter for stock failures.
type CatalogError struct {
	Op        string
	Code      CatalogErrorCode
	ProductID string
	Size      string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *CatalogError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CatalogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCatalogError constructs a typed catalog error.
func NewCatalogError(code CatalogErrorCode, message string, err error) *CatalogError {
	if message == "" {
		message = string(code)
	}
	return &CatalogError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewStockError constructs a catalog error bound to one (product, size) counter.
func NewStockError(code CatalogErrorCode, productID, size, message string, err error) *CatalogError {
	e := NewCatalogError(code, message, err)
	e.ProductID = productID
	e.Size = size
	return e
}
