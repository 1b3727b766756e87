package pricing

// ChargesPolicy выдаёт налог и доставку для заказа. Сами правила приходят из конфигурации.
type ChargesPolicy struct {
	// ShippingRates — фиксированная стоимость доставки по способу доставки.
	ShippingRates map[string]int64
	// TaxBasisPoints — налог в базисных пунктах от (subtotal - discount).
	TaxBasisPoints int64
}

// Charges считает начисления; неизвестный способ доставки стоит ноль.
func (p ChargesPolicy) Charges(shippingMethod string, subtotal, discount int64) Charges {
	var charges Charges
	if rate, ok := p.ShippingRates[shippingMethod]; ok && rate > 0 {
		charges.ShippingMinor = rate
	}
	if p.TaxBasisPoints > 0 {
		base := subtotal - discount
		if base > 0 {
			charges.TaxMinor = base * p.TaxBasisPoints / 10000
		}
	}
	return charges
}
