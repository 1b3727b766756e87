package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ без позиций. ErrOrderNumberConflict — если номер уже занят.
	Create(ctx context.Context, order Order) error
	// CreateItems сохраняет позиции уже созданного заказа.
	CreateItems(ctx context.Context, orderID string, items []OrderItem) error
	// Delete удаляет заказ вместе с позициями (компенсация создания).
	Delete(ctx context.Context, id string) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByNumber ищет заказ по внешнему номеру.
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking и увеличивает Version.
	Save(ctx context.Context, order Order) error
}

// PaymentRepository описывает хранилище платежей и возвратов.
type PaymentRepository interface {
	// Create сохраняет платёж. ErrTransactionIDConflict — если transaction_id занят.
	Create(ctx context.Context, payment Payment) error
	// Get возвращает платёж или ErrPaymentNotFound.
	Get(ctx context.Context, id string) (Payment, error)
	// GetByTransactionID ищет платёж по transaction_id.
	GetByTransactionID(ctx context.Context, transactionID string) (Payment, error)
	// ListByOrder возвращает все платежи и возвраты заказа в порядке создания.
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	// Save обновляет платёж с проверкой версии.
	Save(ctx context.Context, payment Payment) error
	// Delete удаляет платёж (компенсация возврата).
	Delete(ctx context.Context, id string) error
}

// ProductRepository — доступ к каталогу товаров. Изменяется только остаток.
type ProductRepository interface {
	Get(ctx context.Context, id string) (Product, error)
	// GetMany возвращает найденные товары по id; отсутствующие просто не попадают в map.
	GetMany(ctx context.Context, ids []string) (map[string]Product, error)
	// DecrementStock атомарно уменьшает остаток, если товар активен и остатка хватает.
	DecrementStock(ctx context.Context, id string, qty int64) error
	// IncrementStock возвращает единицы на склад.
	IncrementStock(ctx context.Context, id string, qty int64) error
	// Upsert нужен для наполнения каталога (сиды, тесты).
	Upsert(ctx context.Context, product Product) error
}

// CouponRepository — доступ к купонам. Изменяется только used_count.
type CouponRepository interface {
	Get(ctx context.Context, id string) (Coupon, error)
	// GetByCode ищет купон без учёта регистра.
	GetByCode(ctx context.Context, code string) (Coupon, error)
	// IncrementUsage атомарно увеличивает used_count, если лимит не исчерпан.
	IncrementUsage(ctx context.Context, id string) error
	// DecrementUsage уменьшает used_count, не опускаясь ниже нуля.
	DecrementUsage(ctx context.Context, id string) error
	Upsert(ctx context.Context, coupon Coupon) error
}

// CartRepository — корзина пользователя.
type CartRepository interface {
	Items(ctx context.Context, userID string) ([]CartItem, error)
	Clear(ctx context.Context, userID string) error
}
