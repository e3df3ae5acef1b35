package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrRowIsReferenced = 1451
)

// OpenMySQL opens a pool whose sessions wait at most lockTimeout for a row lock.
func OpenMySQL(dsn string, lockTimeout time.Duration) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	secs := int(lockTimeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(secs)

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) Begin(ctx context.Context) (port.UnitOfWork, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &mysqlTx{tx: tx}, nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) LockAndReadStock(ctx context.Context, itemID int64) (int, bool, error) {
	var stock int
	err := t.tx.QueryRowContext(ctx, `SELECT stock FROM items WHERE id = ? FOR UPDATE`, itemID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select item for update: %w", translateMySQLError(err))
	}
	return stock, true, nil
}

// InsertOrder lets the server assign order_date and reads it back inside the
// same transaction.
func (t *mysqlTx) InsertOrder(ctx context.Context, userID, itemID int64, quantity int) (domain.Order, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (user_id, item_id, quantity)
		VALUES (?, ?, ?)`,
		userID, itemID, quantity,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", translateMySQLError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Order{}, fmt.Errorf("order id: %w", err)
	}

	order := domain.Order{ID: id, UserID: userID, ItemID: itemID, Quantity: quantity}
	err = t.tx.QueryRowContext(ctx, `SELECT order_date FROM orders WHERE id = ?`, id).Scan(&order.CreatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read order date: %w", translateMySQLError(err))
	}
	return order, nil
}

func (t *mysqlTx) DecrementStock(ctx context.Context, itemID int64, amount int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock - ?
		WHERE id = ? AND stock >= ?`,
		amount, itemID, amount,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", translateMySQLError(err))
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("item %d: %w", itemID, ErrStockConflict)
	}
	return nil
}

func (t *mysqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *mysqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, name, price, stock FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.Stock); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	var item domain.Item
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock
		FROM items WHERE id = ?`, id,
	).Scan(&item.ID, &item.Name, &item.Price, &item.Stock)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO items (name, price, stock)
		VALUES (?, ?, ?)`,
		item.Name, item.Price, item.Stock,
	)
	if err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}

	item.ID, err = result.LastInsertId()
	if err != nil {
		return domain.Item{}, fmt.Errorf("item id: %w", err)
	}
	return item, nil
}

// UpdateItem sets only the provided columns; a NULL parameter keeps the stored
// value. The pool runs with CLIENT_FOUND_ROWS, so an unchanged row still counts as
// matched.
func (m *MySQLAdapter) UpdateItem(ctx context.Context, id int64, update domain.ItemUpdate) error {
	var (
		name  sql.NullString
		price decimal.NullDecimal
		stock sql.NullInt64
	)
	if update.Name != nil {
		name = sql.NullString{String: *update.Name, Valid: true}
	}
	if update.Price != nil {
		price = decimal.NullDecimal{Decimal: *update.Price, Valid: true}
	}
	if update.Stock != nil {
		stock = sql.NullInt64{Int64: int64(*update.Stock), Valid: true}
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE items
		SET name  = COALESCE(?, name),
		    price = COALESCE(?, price),
		    stock = COALESCE(?, stock)
		WHERE id = ?`,
		name, price, stock, id,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if rows == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (m *MySQLAdapter) DeleteItem(ctx context.Context, id int64) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if isMySQLError(err, mysqlErrRowIsReferenced) {
		return domain.ErrItemInUse
	}
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if rows == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (m *MySQLAdapter) FindUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var (
		user  domain.User
		email sql.NullString
		role  string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, username, email, role, password_hash
		FROM users WHERE username = ?`, username,
	).Scan(&user.ID, &user.Username, &email, &role, &user.PasswordHash)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}
	user.Email = email.String
	user.Role = domain.Role(role)
	return user, nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO users (username, email, role, password_hash)
		VALUES (?, ?, ?, ?)`,
		user.Username, user.Email, string(user.Role), user.PasswordHash,
	)
	if isMySQLError(err, mysqlErrDupEntry) {
		return domain.User{}, domain.ErrUserExists
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}

	user.ID, err = result.LastInsertId()
	if err != nil {
		return domain.User{}, fmt.Errorf("user id: %w", err)
	}
	return user, nil
}

func (m *MySQLAdapter) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, username, email, role FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var (
			user  domain.User
			email sql.NullString
			role  string
		)
		if err := rows.Scan(&user.ID, &user.Username, &email, &role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.Email = email.String
		user.Role = domain.Role(role)
		users = append(users, user)
	}
	return users, rows.Err()
}

const orderViewSelect = `
	SELECT orders.id, orders.user_id, users.username, orders.item_id,
	       items.name, items.price, orders.quantity, orders.order_date
	FROM orders
	JOIN users ON orders.user_id = users.id
	JOIN items ON orders.item_id = items.id`

func (m *MySQLAdapter) ListOrders(ctx context.Context) ([]domain.OrderView, error) {
	return m.queryOrderViews(ctx, orderViewSelect+` ORDER BY orders.order_date DESC, orders.id DESC`)
}

func (m *MySQLAdapter) ListOrdersByUser(ctx context.Context, userID int64) ([]domain.OrderView, error) {
	return m.queryOrderViews(ctx, orderViewSelect+`
	WHERE orders.user_id = ?
	ORDER BY orders.order_date DESC, orders.id DESC`, userID)
}

func (m *MySQLAdapter) queryOrderViews(ctx context.Context, query string, args ...interface{}) ([]domain.OrderView, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var views []domain.OrderView
	for rows.Next() {
		var v domain.OrderView
		if err := rows.Scan(&v.OrderID, &v.UserID, &v.Username, &v.ItemID,
			&v.ItemName, &v.Price, &v.Quantity, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func rowsAffected(result sql.Result) (int64, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}

func translateMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == mysqlErrLockWaitTimeout || myErr.Number == mysqlErrDeadlock) {
		return fmt.Errorf("%w: %s", ErrLockTimeout, myErr.Message)
	}
	return err
}

func isMySQLError(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}
