package enums

import "fmt"

// OrderGroupStatus is the aggregate status derived from an order group's child orders.
type OrderGroupStatus string

const (
	OrderGroupStatusPending            OrderGroupStatus = "pending"
	OrderGroupStatusPartiallyFulfilled OrderGroupStatus = "partially_fulfilled"
	OrderGroupStatusFulfilled          OrderGroupStatus = "fulfilled"
	OrderGroupStatusCancelled          OrderGroupStatus = "cancelled"
)

var validOrderGroupStatuses = []OrderGroupStatus{
	OrderGroupStatusPending,
	OrderGroupStatusPartiallyFulfilled,
	OrderGroupStatusFulfilled,
	OrderGroupStatusCancelled,
}

// String implements fmt.Stringer.
func (o OrderGroupStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderGroupStatus.
func (o OrderGroupStatus) IsValid() bool {
	for _, candidate := range validOrderGroupStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderGroupStatus converts raw input into an OrderGroupStatus.
func ParseOrderGroupStatus(value string) (OrderGroupStatus, error) {
	for _, candidate := range validOrderGroupStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order group status %q", value)
}
