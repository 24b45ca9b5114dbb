package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dbtx объединяет методы пула и транзакции, используемые запросами.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	*queries
	pool   *pgxpool.Pool
	logger *zap.Logger
}

type queries struct {
	db   dbtx
	inTx bool
}

// NewPostgresRepository создаёт новый репозиторий и применяет версионированные миграции схемы.
func NewPostgresRepository(dsn string, logger *zap.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		queries: &queries{db: pool},
		pool:    pool,
		logger:  logger,
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(zap.NewStdLog(r.logger.Named("migrations")))

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	r.logger.Info("schema is up to date", zap.Int64("version", version))

	return nil
}

// errBeginTx помечает ошибку открытия транзакции: до неё ничего не было записано.
var errBeginTx = errors.New("begin tx")

// WithinTx выполняет fn в одной транзакции. Транзакция повторяется при конфликте сериализации
// или взаимоблокировке; обрыв соединения повторяется, только если транзакция не успела начаться.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Store) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("%w: %w", errBeginTx, err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&queries{db: tx, inTx: true}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; ; i++ {
		err = fn()
		if err == nil || i >= len(retryDelays) || !retryable(err) {
			return err
		}

		r.logger.Warn("retrying transaction", zap.Error(err), zap.Duration("delay", retryDelays[i]))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(retryDelays[i]):
		}
	}
}

// retryable сообщает, можно ли безопасно повторить транзакцию целиком.
// Ошибка при фиксации из-за обрыва соединения не повторяется: исход фиксации неизвестен.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return errors.Is(err, errBeginTx) && isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// UpsertMember создаёт участника или обновляет его имя и признак администратора.
func (q *queries) UpsertMember(ctx context.Context, characterID int64, name string, isAdmin bool) (*model.Member, error) {
	var m model.Member
	err := q.db.QueryRow(ctx,
		`INSERT INTO members (character_id, name, is_admin) VALUES ($1, $2, $3)
		 ON CONFLICT (character_id) DO UPDATE SET name = EXCLUDED.name, is_admin = EXCLUDED.is_admin
		 RETURNING id, character_id, name, is_admin, created_at`,
		characterID, name, isAdmin,
	).Scan(&m.ID, &m.CharacterID, &m.Name, &m.IsAdmin, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert member: %w", err)
	}
	return &m, nil
}

const memberColumns = `id, character_id, name, is_admin, created_at`

func (q *queries) getMember(ctx context.Context, where string, arg any) (*model.Member, error) {
	var m model.Member
	err := q.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE `+where, arg).
		Scan(&m.ID, &m.CharacterID, &m.Name, &m.IsAdmin, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

// GetMember возвращает участника по идентификатору.
func (q *queries) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	return q.getMember(ctx, `id = $1`, id)
}

// GetMemberByCharacterID возвращает участника по идентификатору персонажа.
func (q *queries) GetMemberByCharacterID(ctx context.Context, characterID int64) (*model.Member, error) {
	return q.getMember(ctx, `character_id = $1`, characterID)
}

// AddCatalogItem добавляет позицию каталога.
func (q *queries) AddCatalogItem(ctx context.Context, item *model.CatalogItem) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO catalog_items (name, price, category, image_ref, available) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		item.Name, item.Price, item.Category, item.ImageRef, item.Available,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert catalog item: %w", err)
	}
	return id, nil
}

const catalogColumns = `id, name, price, category, image_ref, available, created_at`

func scanCatalogItem(row pgx.Row) (model.CatalogItem, error) {
	var c model.CatalogItem
	err := row.Scan(&c.ID, &c.Name, &c.Price, &c.Category, &c.ImageRef, &c.Available, &c.CreatedAt)
	return c, err
}

// GetCatalogItem возвращает позицию каталога.
func (q *queries) GetCatalogItem(ctx context.Context, id int64) (*model.CatalogItem, error) {
	c, err := scanCatalogItem(q.db.QueryRow(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get catalog item: %w", err)
	}
	return &c, nil
}

// ListCatalog возвращает каталог, упорядоченный по категории и названию.
func (q *queries) ListCatalog(ctx context.Context, availableOnly bool) ([]model.CatalogItem, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items
		 WHERE available OR NOT $1
		 ORDER BY category, name`,
		availableOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("select catalog: %w", err)
	}
	defer rows.Close()

	var res []model.CatalogItem
	for rows.Next() {
		c, err := scanCatalogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateOrder сохраняет новую цель. Уникальный частичный индекс гарантирует не более одной открытой цели.
func (q *queries) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO orders (member_id, item_name, target_price, status, public, category, image_ref, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING id`,
		o.MemberID, o.ItemName, o.TargetPrice, string(o.Status), o.Public, o.Category, o.ImageRef, o.Notes, o.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "orders_one_open_per_member") {
			return 0, fmt.Errorf("%w: member %d", ErrOpenOrderExists, o.MemberID)
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

const orderColumns = `o.id, o.member_id, m.name, o.item_name, o.target_price, o.deposited, o.interest_earned,
	o.status, o.public, o.category, o.image_ref, o.notes, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(&o.ID, &o.MemberID, &o.MemberName, &o.ItemName, &o.TargetPrice, &o.Deposited, &o.InterestEarned,
		&status, &o.Public, &o.Category, &o.ImageRef, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	o.Status = model.OrderStatus(status)
	return o, err
}

func (q *queries) getOrder(ctx context.Context, id int64, lock bool) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o JOIN members m ON m.id = o.member_id WHERE o.id = $1`
	if lock && q.inTx {
		query += ` FOR UPDATE OF o`
	}
	o, err := scanOrder(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// GetOrder возвращает цель по идентификатору.
func (q *queries) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return q.getOrder(ctx, id, false)
}

// LockOrder возвращает цель и блокирует её строку до конца транзакции.
func (q *queries) LockOrder(ctx context.Context, id int64) (*model.Order, error) {
	return q.getOrder(ctx, id, true)
}

// ListOrders возвращает цели по фильтру, новые первыми.
func (q *queries) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}

	rows, err := q.db.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o JOIN members m ON m.id = o.member_id
		 WHERE ($1 = 0 OR o.member_id = $1)
		   AND (cardinality($2::text[]) = 0 OR o.status = ANY($2::text[]))
		 ORDER BY o.created_at DESC, o.id DESC`,
		f.MemberID, statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateOrderStatus переводит цель из статуса from в статус to.
func (q *queries) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_one_open_per_member") {
			return ErrOpenOrderExists
		}
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.missingOrStatusChanged(ctx, id)
	}
	return nil
}

func (q *queries) missingOrStatusChanged(ctx context.Context, id int64) error {
	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusChanged
}

// UpdateOrderDetails изменяет название, цену и видимость цели.
func (q *queries) UpdateOrderDetails(ctx context.Context, id int64, itemName string, price int64, public bool, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE orders SET item_name = $2, target_price = $3, public = $4, updated_at = $5 WHERE id = $1`,
		id, itemName, price, public, at,
	)
	if err != nil {
		return fmt.Errorf("update order details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOrderVisibility изменяет видимость цели в таблице лидеров.
func (q *queries) SetOrderVisibility(ctx context.Context, id int64, public bool, at time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE orders SET public = $2, updated_at = $3 WHERE id = $1`, id, public, at)
	if err != nil {
		return fmt.Errorf("update order visibility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddDeposit сохраняет депозит и увеличивает накопленную сумму цели.
func (q *queries) AddDeposit(ctx context.Context, d *model.Deposit) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO deposits (order_id, amount, source, origin_ref, effective_at, recorded_at, recorded_by, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		d.OrderID, d.Amount, string(d.Source), d.OriginRef, d.EffectiveAt, d.RecordedAt, d.RecordedBy, d.Note,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "deposits_origin_ref_key") {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateTransaction, *d.OriginRef)
		}
		return 0, fmt.Errorf("insert deposit: %w", err)
	}

	tag, err := q.db.Exec(ctx,
		`UPDATE orders SET deposited = deposited + $2, updated_at = $3 WHERE id = $1`,
		d.OrderID, d.Amount, d.RecordedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("update deposited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}

// ListDeposits возвращает депозиты цели в порядке даты вступления в силу.
func (q *queries) ListDeposits(ctx context.Context, orderID int64) ([]model.Deposit, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, order_id, amount, source, origin_ref, effective_at, recorded_at, recorded_by, note
		 FROM deposits WHERE order_id = $1
		 ORDER BY effective_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select deposits: %w", err)
	}
	defer rows.Close()

	var res []model.Deposit
	for rows.Next() {
		var (
			d      model.Deposit
			source string
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &d.Amount, &source, &d.OriginRef, &d.EffectiveAt, &d.RecordedAt, &d.RecordedBy, &d.Note); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		d.Source = model.DepositSource(source)
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// AddInterestPosting сохраняет начисление и увеличивает сумму процентов цели.
func (q *queries) AddInterestPosting(ctx context.Context, p *model.InterestPosting) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO interest_postings (order_id, amount, balance_before, balance_after, accrued_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		p.OrderID, p.Amount, p.BalanceBefore, p.BalanceAfter, p.AccruedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert interest posting: %w", err)
	}

	_, err = q.db.Exec(ctx,
		`UPDATE orders SET interest_earned = interest_earned + $2, updated_at = GREATEST(updated_at, $3) WHERE id = $1`,
		p.OrderID, p.Amount, p.AccruedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("update interest earned: %w", err)
	}
	return id, nil
}

// ListInterestPostings возвращает начисления цели в хронологическом порядке.
func (q *queries) ListInterestPostings(ctx context.Context, orderID int64) ([]model.InterestPosting, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, order_id, amount, balance_before, balance_after, accrued_at
		 FROM interest_postings WHERE order_id = $1
		 ORDER BY accrued_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select interest postings: %w", err)
	}
	defer rows.Close()

	var res []model.InterestPosting
	for rows.Next() {
		var p model.InterestPosting
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.BalanceBefore, &p.BalanceAfter, &p.AccruedAt); err != nil {
			return nil, fmt.Errorf("scan interest posting: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// InsertExternalTransaction сохраняет транзакцию кошелька. Возвращает false, если идентификатор уже известен.
func (q *queries) InsertExternalTransaction(ctx context.Context, tx *model.ExternalTransaction) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO wallet_transactions (id, sender_id, sender_name, amount, reason, tx_date, status, order_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		tx.ID, tx.SenderID, tx.SenderName, tx.Amount, tx.Reason, tx.Date, string(tx.Status), tx.OrderID, tx.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert wallet transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const walletColumns = `id, sender_id, sender_name, amount, reason, tx_date, status, order_id, created_at`

func scanExternalTransaction(row pgx.Row) (model.ExternalTransaction, error) {
	var (
		tx     model.ExternalTransaction
		status string
	)
	err := row.Scan(&tx.ID, &tx.SenderID, &tx.SenderName, &tx.Amount, &tx.Reason, &tx.Date, &status, &tx.OrderID, &tx.CreatedAt)
	tx.Status = model.TransactionStatus(status)
	return tx, err
}

// GetExternalTransaction возвращает транзакцию кошелька по идентификатору ленты.
func (q *queries) GetExternalTransaction(ctx context.Context, id string) (*model.ExternalTransaction, error) {
	tx, err := scanExternalTransaction(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallet_transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get wallet transaction: %w", err)
	}
	return &tx, nil
}

// ExternalTransactionExists сообщает, сохранена ли транзакция с указанным идентификатором.
func (q *queries) ExternalTransactionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallet_transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check wallet transaction: %w", err)
	}
	return exists, nil
}

// ResolveExternalTransaction переводит неразобранную транзакцию в конечный статус.
func (q *queries) ResolveExternalTransaction(ctx context.Context, id string, status model.TransactionStatus, orderID *int64) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallet_transactions SET status = $2, order_id = $3 WHERE id = $1 AND status = $4`,
		id, string(status), orderID, string(model.TransactionUnmatched),
	)
	if err != nil {
		return fmt.Errorf("resolve wallet transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := q.ExternalTransactionExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusChanged
	}
	return nil
}

// ListExternalTransactions возвращает транзакции в указанном статусе, новые первыми.
func (q *queries) ListExternalTransactions(ctx context.Context, status model.TransactionStatus) ([]model.ExternalTransaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+walletColumns+` FROM wallet_transactions WHERE status = $1 ORDER BY tx_date DESC, id`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select wallet transactions: %w", err)
	}
	defer rows.Close()

	var res []model.ExternalTransaction
	for rows.Next() {
		tx, err := scanExternalTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		res = append(res, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetSettings возвращает все сохранённые настройки.
func (q *queries) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := q.db.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	defer rows.Close()

	res := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		res[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// PutSettings сохраняет пары ключ-значение, перезаписывая существующие.
func (q *queries) PutSettings(ctx context.Context, values map[string]string) error {
	batch := &pgx.Batch{}
	for key, value := range values {
		batch.Queue(
			`INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			key, value,
		)
	}

	results := q.db.SendBatch(ctx, batch)
	for range values {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("put setting: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

// AddNotification сохраняет уведомление участнику.
func (q *queries) AddNotification(ctx context.Context, n *model.Notification) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO notifications (member_id, order_id, type, message, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		n.MemberID, n.OrderID, string(n.Type), n.Message, n.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// ListNotifications возвращает последние уведомления участника.
func (q *queries) ListNotifications(ctx context.Context, memberID int64, limit int) ([]model.Notification, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, member_id, order_id, type, message, is_read, created_at
		 FROM notifications WHERE member_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		memberID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var (
			n   model.Notification
			typ string
		)
		if err := rows.Scan(&n.ID, &n.MemberID, &n.OrderID, &typ, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		res = append(res, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// MarkNotificationsRead отмечает все уведомления участника прочитанными.
func (q *queries) MarkNotificationsRead(ctx context.Context, memberID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE member_id = $1 AND NOT is_read`, memberID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
