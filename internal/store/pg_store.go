package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	storeerrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/order"
)

// ChangesChannel is the NOTIFY channel the orders trigger publishes order ids on.
const ChangesChannel = "order_changes"

const orderColumns = `id::text, user_id, user_display_name, user_email, items, shipping_address,
	payment_method_label, total_amount::text, status, notes, created_at, accepted_at, rejected_at`

// PgStore implements OrderStore using PostgreSQL as the data store.
type PgStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgStore creates a new instance of OrderStore using a PostgreSQL connection pool.
func NewPgStore(dbp *pgxpool.Pool, logger *slog.Logger) *PgStore {
	return &PgStore{db: dbp, logger: logger}
}

func (p *PgStore) Create(ctx context.Context, draft order.Draft) (*order.Order, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	items, err := json.Marshal(draft.Items)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrCreateOrder, err)
	}
	address, err := json.Marshal(draft.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrCreateOrder, err)
	}

	row := p.db.QueryRow(ctx, `INSERT INTO orders
		(user_id, user_display_name, user_email, items, shipping_address, payment_method_label, total_amount)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7::numeric)
		RETURNING `+orderColumns,
		draft.UserID, draft.UserDisplayName, draft.UserEmail, string(items), string(address),
		draft.PaymentMethodLabel, draft.TotalAmount.String())
	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrCreateOrder, err)
	}
	return created, nil
}

func (p *PgStore) FindByID(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, storeerrors.ErrOrderNotFound
	}
	o, err := scanOrder(p.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storeerrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrFailedToFindOrder, err)
	}
	return o, nil
}

func (p *PgStore) ListByStatus(ctx context.Context, status order.Status, offset, limit int32) ([]order.Order, error) {
	// No need for transaction here as we are making just one query
	rows, err := p.db.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at, id OFFSET $2 LIMIT $3`, string(status), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrFailedToListOrders, err)
	}
	defer rows.Close()

	orders := make([]order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storeerrors.ErrFailedToListOrders, err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrFailedToListOrders, err)
	}
	return orders, nil
}

func (p *PgStore) Transition(ctx context.Context, id string, to order.Status, notes string) (*order.Order, error) {
	if !to.IsTerminal() {
		return nil, fmt.Errorf("pending -> %s: %w", to, storeerrors.ErrInvalidTransition)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, storeerrors.ErrOrderNotFound
	}

	var updated *order.Order
	txErr := p.withTransaction(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `UPDATE orders SET
				status = $2::text,
				notes = $3,
				accepted_at = CASE WHEN $2::text = 'accepted' THEN now() ELSE accepted_at END,
				rejected_at = CASE WHEN $2::text = 'rejected' THEN now() ELSE rejected_at END
			WHERE id = $1 AND status = 'pending'
			RETURNING `+orderColumns, id, string(to), notes))
		if err == nil {
			updated = o
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %v", storeerrors.ErrUpdateOrder, err)
		}
		// Check if the order exists, or it already left pending.
		var current string
		err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storeerrors.ErrOrderNotFound
			}
			return fmt.Errorf("%w: %v", storeerrors.ErrUpdateOrder, err)
		}
		return fmt.Errorf("order %s is %s: %w", id, current, storeerrors.ErrOrderFinalized)
	})
	if txErr != nil {
		return nil, txErr
	}
	return updated, nil
}

func (p *PgStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return storeerrors.ErrOrderNotFound
	}
	tag, err := p.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", storeerrors.ErrDeleteOrder, err)
	}
	if tag.RowsAffected() == 0 {
		return storeerrors.ErrOrderNotFound
	}
	return nil
}

// Watch holds a dedicated connection that listens on ChangesChannel and
// re-reads the order whenever its id is notified.
func (p *PgStore) Watch(ctx context.Context, id string) (<-chan order.Change, error) {
	conn, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrWatchOrder, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ChangesChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrWatchOrder, err)
	}

	out := make(chan order.Change)
	go func() {
		defer close(out)
		defer p.releaseListener(conn)

		// LISTEN is active before the first read, so no change is missed.
		if !p.emit(ctx, id, out) {
			return
		}
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(ctx, out, order.Change{Err: fmt.Errorf("%w: %v", storeerrors.ErrWatchOrder, err)})
				return
			}
			if n.Payload != id {
				continue
			}
			if !p.emit(ctx, id, out) {
				return
			}
		}
	}()
	return out, nil
}

// emit sends the current document or a tombstone. It reports false when the watch must end.
func (p *PgStore) emit(ctx context.Context, id string, out chan<- order.Change) bool {
	o, err := p.FindByID(ctx, id)
	switch {
	case err == nil:
		return send(ctx, out, order.Change{Order: o})
	case errors.Is(err, storeerrors.ErrOrderNotFound):
		return send(ctx, out, order.Change{Deleted: true})
	case ctx.Err() != nil:
		return false
	default:
		send(ctx, out, order.Change{Err: fmt.Errorf("%w: %v", storeerrors.ErrWatchOrder, err)})
		return false
	}
}

func (p *PgStore) releaseListener(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		p.logger.Debug("closing listener connection", "error", err)
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

func (p *PgStore) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return storeerrors.ErrTransactionBegin
	}

	err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return storeerrors.ErrTransactionRollback
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeerrors.ErrTransactionCommit
	}

	return nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	var items, address []byte
	var total, status string
	err := row.Scan(&o.ID, &o.UserID, &o.UserDisplayName, &o.UserEmail, &items, &address,
		&o.PaymentMethodLabel, &total, &status, &o.Notes, &o.CreatedAt, &o.AcceptedAt, &o.RejectedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("decode total amount: %w", err)
	}
	o.Status = order.Status(status)
	return &o, nil
}
