package models

// All lists every model for sqlite AutoMigrate in dev mode and tests.
func All() []any {
	return []any{
		&User{},
		&Shop{},
		&Product{},
		&StockLedger{},
		&Address{},
		&CartItem{},
		&OrderGroup{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&OutboxEvent{},
	}
}
