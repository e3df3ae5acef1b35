package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// OpenGorm connects to PostgreSQL or SQLite. SQLite gets a single connection, so
// units of work are serialized by the pool and row locks are not needed.
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// GormAdapter implements the transactional and catalog ports on top of gorm.
type GormAdapter struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

func NewGormAdapter(db *gorm.DB, lockTimeout time.Duration) *GormAdapter {
	return &GormAdapter{db: db, lockTimeout: lockTimeout}
}

func (g *GormAdapter) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&itemRow{}, &userRow{}, &orderRow{})
}

func (g *GormAdapter) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *GormAdapter) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Begin starts a unit of work on a dedicated pooled connection. Waiting for that
// connection is bounded by the lock timeout: on SQLite the pool holds a single
// connection, so this wait is where concurrent units of work queue.
func (g *GormAdapter) Begin(ctx context.Context) (port.UnitOfWork, error) {
	conn, err := g.acquireConn(ctx)
	if err != nil {
		return nil, err
	}

	session := g.db.WithContext(ctx)
	session.Statement.ConnPool = conn
	tx := session.Begin()
	if tx.Error != nil {
		conn.Close()
		return nil, fmt.Errorf("begin tx: %w", tx.Error)
	}

	if g.db.Dialector.Name() == DriverPostgres && g.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", g.lockTimeout.Milliseconds())
		if err := tx.Exec(stmt).Error; err != nil {
			tx.Rollback()
			conn.Close()
			return nil, fmt.Errorf("set lock timeout: %w", err)
		}
	}

	return &gormTx{tx: tx, conn: conn}, nil
}

func (g *GormAdapter) acquireConn(ctx context.Context) (*sql.Conn, error) {
	sqlDB, err := g.db.DB()
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if g.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.lockTimeout)
		defer cancel()
	}

	conn, err := sqlDB.Conn(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("wait for connection: %w", ErrLockTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

type gormTx struct {
	tx   *gorm.DB
	conn *sql.Conn
	done bool
}

func (t *gormTx) LockAndReadStock(ctx context.Context, itemID int64) (int, bool, error) {
	var row itemRow
	err := t.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "stock").
		Where("id = ?", itemID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select item for update: %w", translateLockError(err))
	}
	return row.Stock, true, nil
}

func (t *gormTx) InsertOrder(ctx context.Context, userID, itemID int64, quantity int) (domain.Order, error) {
	row := orderRow{
		UserID:    userID,
		ItemID:    itemID,
		Quantity:  quantity,
		OrderDate: time.Now().UTC(),
	}
	if err := t.tx.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", translateLockError(err))
	}
	return row.toDomain(), nil
}

func (t *gormTx) DecrementStock(ctx context.Context, itemID int64, amount int) error {
	res := t.tx.WithContext(ctx).
		Model(&itemRow{}).
		Where("id = ? AND stock >= ?", itemID, amount).
		UpdateColumn("stock", gorm.Expr("stock - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("update stock: %w", translateLockError(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("item %d: %w", itemID, ErrStockConflict)
	}
	return nil
}

func (t *gormTx) Commit() error {
	err := t.tx.Commit().Error
	t.release()
	return err
}

func (t *gormTx) Rollback() error {
	err := t.tx.Rollback().Error
	t.release()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// release hands the connection back to the pool once the transaction is over.
func (t *gormTx) release() {
	if t.done {
		return
	}
	t.done = true
	t.conn.Close()
}

func (g *GormAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	var rows []itemRow
	if err := g.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	items := make([]domain.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toDomain())
	}
	return items, nil
}

func (g *GormAdapter) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	var row itemRow
	err := g.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	return row.toDomain(), nil
}

func (g *GormAdapter) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	row := itemRow{Name: item.Name, Price: item.Price, Stock: item.Stock}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.Item{}, fmt.Errorf("create item: %w", err)
	}
	return row.toDomain(), nil
}

func (g *GormAdapter) UpdateItem(ctx context.Context, id int64, update domain.ItemUpdate) error {
	updates := make(map[string]interface{})
	if update.Name != nil {
		updates["name"] = *update.Name
	}
	if update.Price != nil {
		updates["price"] = *update.Price
	}
	if update.Stock != nil {
		updates["stock"] = *update.Stock
	}
	if len(updates) == 0 {
		return nil
	}

	res := g.db.WithContext(ctx).Model(&itemRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Unchanged values report zero rows on some engines.
		var count int64
		if err := g.db.WithContext(ctx).Model(&itemRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("count item: %w", err)
		}
		if count == 0 {
			return domain.ErrItemNotFound
		}
	}
	return nil
}

func (g *GormAdapter) DeleteItem(ctx context.Context, id int64) error {
	res := g.db.WithContext(ctx).Where("id = ?", id).Delete(&itemRow{})
	if errors.Is(res.Error, gorm.ErrForeignKeyViolated) {
		return domain.ErrItemInUse
	}
	if res.Error != nil {
		return fmt.Errorf("delete item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (g *GormAdapter) FindUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var row userRow
	err := g.db.WithContext(ctx).Where("username = ?", username).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	return row.toDomain(), nil
}

func (g *GormAdapter) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	row := userRow{
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Email:        user.Email,
		Role:         string(user.Role),
	}
	err := g.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.User{}, domain.ErrUserExists
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return row.toDomain(), nil
}

func (g *GormAdapter) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	if err := g.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

func (g *GormAdapter) ListOrders(ctx context.Context) ([]domain.OrderView, error) {
	return listOrderViews(g.orderViewQuery(ctx))
}

func (g *GormAdapter) ListOrdersByUser(ctx context.Context, userID int64) ([]domain.OrderView, error) {
	return listOrderViews(g.orderViewQuery(ctx).Where("orders.user_id = ?", userID))
}

func (g *GormAdapter) orderViewQuery(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx).
		Table("orders").
		Select("orders.id AS order_id, orders.user_id, users.username, orders.item_id, " +
			"items.name AS item_name, items.price, orders.quantity, orders.order_date").
		Joins("JOIN users ON users.id = orders.user_id").
		Joins("JOIN items ON items.id = orders.item_id")
}

func listOrderViews(query *gorm.DB) ([]domain.OrderView, error) {
	var rows []orderViewRow
	if err := query.Order("orders.order_date DESC, orders.id DESC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	views := make([]domain.OrderView, 0, len(rows))
	for _, r := range rows {
		views = append(views, r.toDomain())
	}
	return views, nil
}

// translateLockError maps PostgreSQL lock_not_available and deadlock_detected to
// ErrLockTimeout.
func translateLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "55P03" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	}
	return err
}
