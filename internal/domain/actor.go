package domain

// Role задаёт набор возможностей вызывающей стороны.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleGateway  Role = "gateway"
	RoleSystem   Role = "system"
)

// Actor — capability, передаваемая в каждую операцию движка вместо глобального контекста авторизации.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor используется фоновыми обработчиками (outbox, callback consumer).
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Valid проверяет, что роль известна.
func (a Actor) Valid() bool {
	switch a.Role {
	case RoleCustomer, RoleAdmin, RoleGateway, RoleSystem:
		return true
	default:
		return false
	}
}

// IsOperator — админ или внутренний процесс.
func (a Actor) IsOperator() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// CanActFor проверяет, может ли актор действовать от имени пользователя userID.
func (a Actor) CanActFor(userID string) bool {
	if a.IsOperator() {
		return true
	}
	return a.Role == RoleCustomer && a.ID != "" && a.ID == userID
}

// CanReadOrder проверяет доступ на чтение заказа.
func (a Actor) CanReadOrder(order *Order) bool {
	return a.CanActFor(order.UserID)
}

// CanTransitionOrder проверяет право на смену статуса заказа.
// Покупатель может только отменить свой заказ до начала сборки.
func (a Actor) CanTransitionOrder(order *Order, to OrderStatus) bool {
	if a.IsOperator() {
		return true
	}
	if a.Role != RoleCustomer || !a.CanActFor(order.UserID) {
		return false
	}
	return to == OrderStatusCancelled &&
		(order.Status == OrderStatusPending || order.Status == OrderStatusConfirmed)
}

// CanProcessPayment проверяет право двигать статус платежа (callback шлюза или оператор).
func (a Actor) CanProcessPayment() bool {
	return a.IsOperator() || a.Role == RoleGateway
}

// CanRefund проверяет право оформлять возвраты.
func (a Actor) CanRefund() bool {
	return a.IsOperator()
}
