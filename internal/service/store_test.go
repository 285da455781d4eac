package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

type memProduct struct {
	name     string
	price    int64
	currency string
	stock    int
	variants map[int64]int
}

// memStore хранит данные в памяти с той же семантикой транзакций, что и PostgreSQL:
// изменения фиксируются только при успешном завершении fn.
type memStore struct {
	mu sync.Mutex

	products map[int64]*memProduct
	orders   map[string]*model.Order

	createErrs []error
	contention int
	lockCalls  int
	reads      int
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[int64]*memProduct),
		orders:   make(map[string]*model.Order),
	}
}

func (s *memStore) addProduct(id int64, name string, price int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = &memProduct{name: name, price: price, currency: "USD", stock: stock, variants: map[int64]int{}}
}

func (s *memStore) addVariant(productID, variantID int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[productID]
	p.variants[variantID] = stock
	p.stock += stock
}

func (s *memStore) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].stock
}

func (s *memStore) variantStock(productID, variantID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].variants[variantID]
}

func (s *memStore) order(number string) *model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[number])
}

func (s *memStore) Close() error { return nil }

func (s *memStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		return err
	}
	if _, ok := s.orders[o.Number]; ok {
		return repository.ErrOrderNumberTaken
	}
	s.orders[o.Number] = cloneOrder(o)
	return nil
}

func (s *memStore) GetOrderByNumber(_ context.Context, number string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	o, ok := s.orders[number]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", number, model.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *memStore) GetOrdersByUser(_ context.Context, userID int64) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			res = append(res, *cloneOrder(o))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *memStore) FindPricesAndStock(_ context.Context, ids []int64) (map[int64]model.CatalogProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make(map[int64]model.CatalogProduct)
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		cp := model.CatalogProduct{
			ID:       id,
			Name:     p.name,
			Price:    p.price,
			Currency: p.currency,
			Stock:    p.stock,
			Variants: make(map[int64]model.CatalogVariant),
		}
		for vid, stock := range p.variants {
			cp.Variants[vid] = model.CatalogVariant{ID: vid, Name: fmt.Sprintf("v%d", vid), Stock: stock}
		}
		res[id] = cp
	}
	return res, nil
}

func (s *memStore) WithOrderLock(ctx context.Context, number string, fn func(ctx context.Context, tx repository.OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lockCalls++
	if s.contention > 0 {
		s.contention--
		return fmt.Errorf("%w: canceling statement due to lock timeout", model.ErrContention)
	}

	o, ok := s.orders[number]
	if !ok {
		return fmt.Errorf("order %s: %w", number, model.ErrNotFound)
	}

	tx := &memTx{store: s, order: cloneOrder(o)}
	before := s.snapshot()

	if err := fn(ctx, tx); err != nil {
		s.products = before
		return err
	}
	if tx.saved != nil {
		s.orders[number] = tx.saved
	}
	return nil
}

func (s *memStore) snapshot() map[int64]*memProduct {
	res := make(map[int64]*memProduct, len(s.products))
	for id, p := range s.products {
		cp := *p
		cp.variants = make(map[int64]int, len(p.variants))
		for vid, v := range p.variants {
			cp.variants[vid] = v
		}
		res[id] = &cp
	}
	return res
}

type memTx struct {
	store *memStore
	order *model.Order
	saved *model.Order
}

func (t *memTx) Order() *model.Order { return t.order }

func (t *memTx) AdjustStock(_ context.Context, items []model.StockItem, dir model.Direction) error {
	s := t.store
	before := s.snapshot()

	for _, it := range model.MergeStockItems(items) {
		if err := applyStock(s.products, it, dir); err != nil {
			s.products = before
			return err
		}
	}
	return nil
}

func applyStock(products map[int64]*memProduct, it model.StockItem, dir model.Direction) error {
	p, ok := products[it.ProductID]
	if !ok {
		return fmt.Errorf("product %d: %w", it.ProductID, model.ErrNotFound)
	}

	delta := it.Quantity
	if dir == model.DirectionDeduct {
		delta = -delta
	}

	if it.VariantID != nil {
		v, ok := p.variants[*it.VariantID]
		if !ok {
			return fmt.Errorf("product %d: %w", it.ProductID, model.ErrNotFound)
		}
		if v+delta < 0 {
			return &model.InsufficientStockError{ProductID: it.ProductID, VariantID: it.VariantID}
		}
		p.variants[*it.VariantID] = v + delta
	}

	if p.stock+delta < 0 {
		return &model.InsufficientStockError{ProductID: it.ProductID}
	}
	p.stock += delta
	return nil
}

func (t *memTx) SaveOrder(_ context.Context) error {
	t.saved = cloneOrder(t.order)
	return nil
}
