package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

const paymentColumns = `
	id, order_id, transaction_id, method, amount_minor, status,
	gateway_response, failure_reason, processed_at, version, created_at, updated_at`

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	response, err := marshalGatewayResponse(payment.GatewayResponse)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		payment.ID, payment.OrderID, payment.TransactionID, string(payment.Method), payment.AmountMinor,
		string(payment.Status), response, payment.FailureReason, nullTime(payment.ProcessedAt),
		payment.Version, payment.CreatedAt.UTC(), payment.UpdatedAt.UTC(),
	)
	if err != nil {
		switch {
		case uniqueViolationOn(err, "payments_transaction_id_key"):
			return domain.ErrTransactionIDConflict
		case isUniqueViolation(err):
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	return r.getBy(ctx, "id", id)
}

func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	return r.getBy(ctx, "transaction_id", transactionID)
}

func (r *paymentRepository) getBy(ctx context.Context, column, value string) (domain.Payment, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	payment, err := scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	response, err := marshalGatewayResponse(payment.GatewayResponse)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET transaction_id = $1,
		    status = $2,
		    gateway_response = $3,
		    failure_reason = $4,
		    processed_at = $5,
		    updated_at = $6,
		    version = version + 1
		WHERE id = $7
		  AND version = $8
	`,
		payment.TransactionID, string(payment.Status), response, payment.FailureReason,
		nullTime(payment.ProcessedAt), payment.UpdatedAt.UTC(), payment.ID, payment.Version,
	)
	if err != nil {
		if uniqueViolationOn(err, "payments_transaction_id_key") {
			return domain.ErrTransactionIDConflict
		}
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM payments WHERE id = $1`, payment.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrPaymentVersionConflict
	}
	return nil
}

func (r *paymentRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		payment         domain.Payment
		method, status  string
		gatewayResponse []byte
		processedAt     sql.NullTime
	)
	if err := row.Scan(
		&payment.ID, &payment.OrderID, &payment.TransactionID, &method, &payment.AmountMinor, &status,
		&gatewayResponse, &payment.FailureReason, &processedAt, &payment.Version,
		&payment.CreatedAt, &payment.UpdatedAt,
	); err != nil {
		return domain.Payment{}, err
	}
	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)
	payment.ProcessedAt = timePtr(processedAt)
	payment.CreatedAt = payment.CreatedAt.UTC()
	payment.UpdatedAt = payment.UpdatedAt.UTC()
	if len(gatewayResponse) > 0 {
		if err := json.Unmarshal(gatewayResponse, &payment.GatewayResponse); err != nil {
			return domain.Payment{}, fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return payment, nil
}

// marshalGatewayResponse возвращает nil для пустого ответа шлюза (NULL в колонке).
func marshalGatewayResponse(response map[string]string) ([]byte, error) {
	if len(response) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encode gateway response: %w", err)
	}
	return data, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
