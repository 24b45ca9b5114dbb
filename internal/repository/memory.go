package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/shipsavings/internal/model"
)

// memState хранит все таблицы in-memory хранилища.
type memState struct {
	seq           int64
	members       map[int64]model.Member
	catalog       map[int64]model.CatalogItem
	orders        map[int64]model.Order
	deposits      []model.Deposit
	postings      []model.InterestPosting
	transactions  map[string]model.ExternalTransaction
	settings      map[string]string
	notifications []model.Notification
}

func newMemState() *memState {
	return &memState{
		members:      make(map[int64]model.Member),
		catalog:      make(map[int64]model.CatalogItem),
		orders:       make(map[int64]model.Order),
		transactions: make(map[string]model.ExternalTransaction),
		settings:     model.DefaultSettings().Map(),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:           s.seq,
		members:       make(map[int64]model.Member, len(s.members)),
		catalog:       make(map[int64]model.CatalogItem, len(s.catalog)),
		orders:        make(map[int64]model.Order, len(s.orders)),
		deposits:      append([]model.Deposit(nil), s.deposits...),
		postings:      append([]model.InterestPosting(nil), s.postings...),
		transactions:  make(map[string]model.ExternalTransaction, len(s.transactions)),
		settings:      make(map[string]string, len(s.settings)),
		notifications: append([]model.Notification(nil), s.notifications...),
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.catalog {
		c.catalog[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	return c
}

func (s *memState) next() int64 {
	s.seq++
	return s.seq
}

// MemoryRepository хранит данные в памяти процесса. Используется в тестах
// и при запуске без DATABASE_URI.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryRepository создаёт пустое хранилище с настройками по умолчанию.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemState()}
}

// WithinTx выполняет fn над копией состояния и применяет её только при успехе.
// Транзакции сериализуются общим мьютексом.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	draft := r.state.clone()
	if err := fn(&memStore{s: draft}); err != nil {
		return err
	}
	r.state = draft
	return nil
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) do(fn func(st *memStore) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&memStore{s: r.state})
}

// memStore реализует Store над состоянием без блокировок. Вызывающий отвечает за синхронизацию.
type memStore struct {
	s *memState
}

func (m *memStore) UpsertMember(_ context.Context, characterID int64, name string, isAdmin bool) (*model.Member, error) {
	for id, member := range m.s.members {
		if member.CharacterID == characterID {
			member.Name = name
			member.IsAdmin = isAdmin
			m.s.members[id] = member
			return &member, nil
		}
	}
	member := model.Member{
		ID:          m.s.next(),
		CharacterID: characterID,
		Name:        name,
		IsAdmin:     isAdmin,
		CreatedAt:   time.Now(),
	}
	m.s.members[member.ID] = member
	return &member, nil
}

func (m *memStore) GetMember(_ context.Context, id int64) (*model.Member, error) {
	member, ok := m.s.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &member, nil
}

func (m *memStore) GetMemberByCharacterID(_ context.Context, characterID int64) (*model.Member, error) {
	for _, member := range m.s.members {
		if member.CharacterID == characterID {
			return &member, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) AddCatalogItem(_ context.Context, item *model.CatalogItem) (int64, error) {
	for _, existing := range m.s.catalog {
		if existing.Name == item.Name {
			return 0, fmt.Errorf("insert catalog item: name %q already exists", item.Name)
		}
	}
	c := *item
	c.ID = m.s.next()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.s.catalog[c.ID] = c
	return c.ID, nil
}

func (m *memStore) GetCatalogItem(_ context.Context, id int64) (*model.CatalogItem, error) {
	c, ok := m.s.catalog[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memStore) ListCatalog(_ context.Context, availableOnly bool) ([]model.CatalogItem, error) {
	var res []model.CatalogItem
	for _, c := range m.s.catalog {
		if availableOnly && !c.Available {
			continue
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Category != res[j].Category {
			return res[i].Category < res[j].Category
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

func (m *memStore) hasOpenOrder(memberID, exceptID int64) bool {
	for _, o := range m.s.orders {
		if o.ID != exceptID && o.MemberID == memberID && o.Status.IsOpen() {
			return true
		}
	}
	return false
}

func (m *memStore) CreateOrder(_ context.Context, o *model.Order) (int64, error) {
	if _, ok := m.s.members[o.MemberID]; !ok {
		return 0, fmt.Errorf("insert order: member %d: %w", o.MemberID, ErrNotFound)
	}
	if o.Status.IsOpen() && m.hasOpenOrder(o.MemberID, 0) {
		return 0, fmt.Errorf("%w: member %d", ErrOpenOrderExists, o.MemberID)
	}
	stored := *o
	stored.ID = m.s.next()
	stored.Deposited = 0
	stored.InterestEarned = 0
	m.s.orders[stored.ID] = stored
	return stored.ID, nil
}

func (m *memStore) withMemberName(o model.Order) model.Order {
	if member, ok := m.s.members[o.MemberID]; ok {
		o.MemberName = member.Name
	}
	return o
}

func (m *memStore) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	o, ok := m.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o = m.withMemberName(o)
	return &o, nil
}

func (m *memStore) LockOrder(ctx context.Context, id int64) (*model.Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *memStore) ListOrders(_ context.Context, f OrderFilter) ([]model.Order, error) {
	var res []model.Order
	for _, o := range m.s.orders {
		if f.match(o) {
			res = append(res, m.withMemberName(o))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, id int64, from, to model.OrderStatus, at time.Time) error {
	o, ok := m.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStatusChanged
	}
	if to.IsOpen() && !from.IsOpen() && m.hasOpenOrder(o.MemberID, id) {
		return ErrOpenOrderExists
	}
	o.Status = to
	o.UpdatedAt = at
	m.s.orders[id] = o
	return nil
}

func (m *memStore) UpdateOrderDetails(_ context.Context, id int64, itemName string, price int64, public bool, at time.Time) error {
	o, ok := m.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.ItemName = itemName
	o.TargetPrice = price
	o.Public = public
	o.UpdatedAt = at
	m.s.orders[id] = o
	return nil
}

func (m *memStore) SetOrderVisibility(_ context.Context, id int64, public bool, at time.Time) error {
	o, ok := m.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Public = public
	o.UpdatedAt = at
	m.s.orders[id] = o
	return nil
}

func (m *memStore) AddDeposit(_ context.Context, d *model.Deposit) (int64, error) {
	o, ok := m.s.orders[d.OrderID]
	if !ok {
		return 0, ErrNotFound
	}
	if d.OriginRef != nil {
		for _, existing := range m.s.deposits {
			if existing.OriginRef != nil && *existing.OriginRef == *d.OriginRef {
				return 0, fmt.Errorf("%w: %s", ErrDuplicateTransaction, *d.OriginRef)
			}
		}
	}
	stored := *d
	stored.ID = m.s.next()
	m.s.deposits = append(m.s.deposits, stored)

	o.Deposited += d.Amount
	o.UpdatedAt = d.RecordedAt
	m.s.orders[o.ID] = o
	return stored.ID, nil
}

func (m *memStore) ListDeposits(_ context.Context, orderID int64) ([]model.Deposit, error) {
	var res []model.Deposit
	for _, d := range m.s.deposits {
		if d.OrderID == orderID {
			res = append(res, d)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].EffectiveAt.Before(res[j].EffectiveAt)
	})
	return res, nil
}

func (m *memStore) AddInterestPosting(_ context.Context, p *model.InterestPosting) (int64, error) {
	o, ok := m.s.orders[p.OrderID]
	if !ok {
		return 0, ErrNotFound
	}
	stored := *p
	stored.ID = m.s.next()
	m.s.postings = append(m.s.postings, stored)

	o.InterestEarned += p.Amount
	if p.AccruedAt.After(o.UpdatedAt) {
		o.UpdatedAt = p.AccruedAt
	}
	m.s.orders[o.ID] = o
	return stored.ID, nil
}

func (m *memStore) ListInterestPostings(_ context.Context, orderID int64) ([]model.InterestPosting, error) {
	var res []model.InterestPosting
	for _, p := range m.s.postings {
		if p.OrderID == orderID {
			res = append(res, p)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].AccruedAt.Before(res[j].AccruedAt)
	})
	return res, nil
}

func (m *memStore) InsertExternalTransaction(_ context.Context, tx *model.ExternalTransaction) (bool, error) {
	if _, ok := m.s.transactions[tx.ID]; ok {
		return false, nil
	}
	m.s.transactions[tx.ID] = *tx
	return true, nil
}

func (m *memStore) GetExternalTransaction(_ context.Context, id string) (*model.ExternalTransaction, error) {
	tx, ok := m.s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tx, nil
}

func (m *memStore) ExternalTransactionExists(_ context.Context, id string) (bool, error) {
	_, ok := m.s.transactions[id]
	return ok, nil
}

func (m *memStore) ResolveExternalTransaction(_ context.Context, id string, status model.TransactionStatus, orderID *int64) error {
	tx, ok := m.s.transactions[id]
	if !ok {
		return ErrNotFound
	}
	if tx.Status != model.TransactionUnmatched {
		return ErrStatusChanged
	}
	tx.Status = status
	tx.OrderID = orderID
	m.s.transactions[id] = tx
	return nil
}

func (m *memStore) ListExternalTransactions(_ context.Context, status model.TransactionStatus) ([]model.ExternalTransaction, error) {
	var res []model.ExternalTransaction
	for _, tx := range m.s.transactions {
		if tx.Status == status {
			res = append(res, tx)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.After(res[j].Date)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *memStore) GetSettings(_ context.Context) (map[string]string, error) {
	res := make(map[string]string, len(m.s.settings))
	for k, v := range m.s.settings {
		res[k] = v
	}
	return res, nil
}

func (m *memStore) PutSettings(_ context.Context, values map[string]string) error {
	for k, v := range values {
		m.s.settings[k] = v
	}
	return nil
}

func (m *memStore) AddNotification(_ context.Context, n *model.Notification) (int64, error) {
	stored := *n
	stored.ID = m.s.next()
	m.s.notifications = append(m.s.notifications, stored)
	return stored.ID, nil
}

func (m *memStore) ListNotifications(_ context.Context, memberID int64, limit int) ([]model.Notification, error) {
	var res []model.Notification
	for i := len(m.s.notifications) - 1; i >= 0; i-- {
		n := m.s.notifications[i]
		if n.MemberID != memberID {
			continue
		}
		res = append(res, n)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (m *memStore) MarkNotificationsRead(_ context.Context, memberID int64) (int64, error) {
	var n int64
	for i := range m.s.notifications {
		if m.s.notifications[i].MemberID == memberID && !m.s.notifications[i].Read {
			m.s.notifications[i].Read = true
			n++
		}
	}
	return n, nil
}

func memCall[T any](r *MemoryRepository, fn func(st *memStore) (T, error)) (T, error) {
	var (
		res T
		err error
	)
	_ = r.do(func(st *memStore) error {
		res, err = fn(st)
		return nil
	})
	return res, err
}

func (r *MemoryRepository) UpsertMember(ctx context.Context, characterID int64, name string, isAdmin bool) (*model.Member, error) {
	return memCall(r, func(st *memStore) (*model.Member, error) { return st.UpsertMember(ctx, characterID, name, isAdmin) })
}

func (r *MemoryRepository) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	return memCall(r, func(st *memStore) (*model.Member, error) { return st.GetMember(ctx, id) })
}

func (r *MemoryRepository) GetMemberByCharacterID(ctx context.Context, characterID int64) (*model.Member, error) {
	return memCall(r, func(st *memStore) (*model.Member, error) { return st.GetMemberByCharacterID(ctx, characterID) })
}

func (r *MemoryRepository) AddCatalogItem(ctx context.Context, item *model.CatalogItem) (int64, error) {
	return memCall(r, func(st *memStore) (int64, error) { return st.AddCatalogItem(ctx, item) })
}

func (r *MemoryRepository) GetCatalogItem(ctx context.Context, id int64) (*model.CatalogItem, error) {
	return memCall(r, func(st *memStore) (*model.CatalogItem, error) { return st.GetCatalogItem(ctx, id) })
}

func (r *MemoryRepository) ListCatalog(ctx context.Context, availableOnly bool) ([]model.CatalogItem, error) {
	return memCall(r, func(st *memStore) ([]model.CatalogItem, error) { return st.ListCatalog(ctx, availableOnly) })
}

func (r *MemoryRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	return memCall(r, func(st *memStore) (int64, error) { return st.CreateOrder(ctx, o) })
}

func (r *MemoryRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return memCall(r, func(st *memStore) (*model.Order, error) { return st.GetOrder(ctx, id) })
}

func (r *MemoryRepository) LockOrder(ctx context.Context, id int64) (*model.Order, error) {
	return r.GetOrder(ctx, id)
}

func (r *MemoryRepository) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	return memCall(r, func(st *memStore) ([]model.Order, error) { return st.ListOrders(ctx, f) })
}

func (r *MemoryRepository) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus, at time.Time) error {
	return r.do(func(st *memStore) error { return st.UpdateOrderStatus(ctx, id, from, to, at) })
}

func (r *MemoryRepository) UpdateOrderDetails(ctx context.Context, id int64, itemName string, price int64, public bool, at time.Time) error {
	return r.do(func(st *memStore) error { return st.UpdateOrderDetails(ctx, id, itemName, price, public, at) })
}

func (r *MemoryRepository) SetOrderVisibility(ctx context.Context, id int64, public bool, at time.Time) error {
	return r.do(func(st *memStore) error { return st.SetOrderVisibility(ctx, id, public, at) })
}

func (r *MemoryRepository) AddDeposit(ctx context.Context, d *model.Deposit) (int64, error) {
	return memCall(r, func(st *memStore) (int64, error) { return st.AddDeposit(ctx, d) })
}

func (r *MemoryRepository) ListDeposits(ctx context.Context, orderID int64) ([]model.Deposit, error) {
	return memCall(r, func(st *memStore) ([]model.Deposit, error) { return st.ListDeposits(ctx, orderID) })
}

func (r *MemoryRepository) AddInterestPosting(ctx context.Context, p *model.InterestPosting) (int64, error) {
	return memCall(r, func(st *memStore) (int64, error) { return st.AddInterestPosting(ctx, p) })
}

func (r *MemoryRepository) ListInterestPostings(ctx context.Context, orderID int64) ([]model.InterestPosting, error) {
	return memCall(r, func(st *memStore) ([]model.InterestPosting, error) { return st.ListInterestPostings(ctx, orderID) })
}

func (r *MemoryRepository) InsertExternalTransaction(ctx context.Context, tx *model.ExternalTransaction) (bool, error) {
	return memCall(r, func(st *memStore) (bool, error) { return st.InsertExternalTransaction(ctx, tx) })
}

func (r *MemoryRepository) GetExternalTransaction(ctx context.Context, id string) (*model.ExternalTransaction, error) {
	return memCall(r, func(st *memStore) (*model.ExternalTransaction, error) { return st.GetExternalTransaction(ctx, id) })
}

func (r *MemoryRepository) ExternalTransactionExists(ctx context.Context, id string) (bool, error) {
	return memCall(r, func(st *memStore) (bool, error) { return st.ExternalTransactionExists(ctx, id) })
}

func (r *MemoryRepository) ResolveExternalTransaction(ctx context.Context, id string, status model.TransactionStatus, orderID *int64) error {
	return r.do(func(st *memStore) error { return st.ResolveExternalTransaction(ctx, id, status, orderID) })
}

func (r *MemoryRepository) ListExternalTransactions(ctx context.Context, status model.TransactionStatus) ([]model.ExternalTransaction, error) {
	return memCall(r, func(st *memStore) ([]model.ExternalTransaction, error) { return st.ListExternalTransactions(ctx, status) })
}

func (r *MemoryRepository) GetSettings(ctx context.Context) (map[string]string, error) {
	return memCall(r, func(st *memStore) (map[string]string, error) { return st.GetSettings(ctx) })
}

func (r *MemoryRepository) PutSettings(ctx context.Context, values map[string]string) error {
	return r.do(func(st *memStore) error { return st.PutSettings(ctx, values) })
}

func (r *MemoryRepository) AddNotification(ctx context.Context, n *model.Notification) (int64, error) {
	return memCall(r, func(st *memStore) (int64, error) { return st.AddNotification(ctx, n) })
}

func (r *MemoryRepository) ListNotifications(ctx context.Context, memberID int64, limit int) ([]model.Notification, error) {
	return memCall(r, func(st *memStore) ([]model.Notification, error) { return st.ListNotifications(ctx, memberID, limit) })
}

func (r *MemoryRepository) MarkNotificationsRead(ctx context.Context, memberID int64) (int64, error) {
	return memCall(r, func(st *memStore) (int64, error) { return st.MarkNotificationsRead(ctx, memberID) })
}

var (
	_ Store = (*MemoryRepository)(nil)
	_ Store = (*memStore)(nil)
	_ Store = (*queries)(nil)
)
