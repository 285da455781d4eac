package model

import "sort"

// Direction задаёт направление изменения остатков.
type Direction string

const (
	DirectionDeduct  Direction = "DEDUCT"
	DirectionRestore Direction = "RESTORE"
)

// StockItem описывает строку пакетного изменения остатков.
type StockItem struct {
	ProductID int64
	VariantID *int64
	Quantity  int
}

// MaxStock ограничивает остаток сверху при возврате товара на склад.
const MaxStock = 1_000_000_000

type stockKey struct {
	productID int64
	variantID int64
	variant   bool
}

// MergeStockItems объединяет строки с одинаковым товаром и вариантом
// и упорядочивает их по идентификаторам, чтобы блокировки строк
// всегда захватывались в одном порядке.
func MergeStockItems(items []StockItem) []StockItem {
	totals := make(map[stockKey]int, len(items))
	order := make([]stockKey, 0, len(items))

	for _, it := range items {
		k := stockKey{productID: it.ProductID}
		if it.VariantID != nil {
			k.variantID = *it.VariantID
			k.variant = true
		}
		if _, ok := totals[k]; !ok {
			order = append(order, k)
		}
		totals[k] += it.Quantity
	}

	res := make([]StockItem, 0, len(order))
	for _, k := range order {
		item := StockItem{ProductID: k.productID, Quantity: totals[k]}
		if k.variant {
			v := k.variantID
			item.VariantID = &v
		}
		res = append(res, item)
	}

	sortStockItems(res)
	return res
}

func sortStockItems(items []StockItem) {
	variantOf := func(it StockItem) int64 {
		if it.VariantID == nil {
			return -1
		}
		return *it.VariantID
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProductID != items[j].ProductID {
			return items[i].ProductID < items[j].ProductID
		}
		return variantOf(items[i]) < variantOf(items[j])
	})
}
