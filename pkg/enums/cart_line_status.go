package enums

// CartLineStatus classifies a cart line during validation.
type CartLineStatus string

const (
	CartLineStatusAvailable         CartLineStatus = "available"
	CartLineStatusOutOfStock        CartLineStatus = "out_of_stock"
	CartLineStatusInsufficientStock CartLineStatus = "insufficient_stock"
	CartLineStatusUnavailable       CartLineStatus = "unavailable"
)

// String implements fmt.Stringer.
func (c CartLineStatus) String() string {
	return string(c)
}
