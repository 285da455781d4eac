package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/model"
)

var (
	deductVariantSQL  = regexp.QuoteMeta("UPDATE product_variants SET stock = stock - $1")
	deductProductSQL  = regexp.QuoteMeta("UPDATE products SET stock = stock - $1")
	restoreVariantSQL = regexp.QuoteMeta("UPDATE product_variants SET stock = stock + $1")
	restoreProductSQL = regexp.QuoteMeta("UPDATE products SET stock = stock + $1")
	variantExistsSQL  = regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM product_variants")
	productExistsSQL  = regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM products")
)

// newMockTx открывает транзакцию на pgxmock, внутри которой работает ledger.
func newMockTx(t *testing.T) (pgxmock.PgxConnIface, pgx.Tx) {
	t.Helper()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close(context.Background()) })

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	return mock, tx
}

func variant(id int64) *int64 { return &id }

func TestAdjustStock_DeductsMergedLinesInOrder(t *testing.T) {
	mock, tx := newMockTx(t)

	items := []model.StockItem{
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, VariantID: variant(11), Quantity: 2},
		{ProductID: 2, Quantity: 2},
	}

	mock.ExpectBegin()
	mock.ExpectExec(deductVariantSQL).WithArgs(2, int64(11), int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(deductProductSQL).WithArgs(2, int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(deductProductSQL).WithArgs(3, int64(2)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, adjustStock(context.Background(), tx, items, model.DirectionDeduct))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStock_InsufficientStockRollsBackSavepoint(t *testing.T) {
	mock, tx := newMockTx(t)

	items := []model.StockItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, VariantID: variant(21), Quantity: 3},
	}

	mock.ExpectBegin()
	mock.ExpectExec(deductProductSQL).WithArgs(1, int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(deductVariantSQL).WithArgs(3, int64(21), int64(2)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(variantExistsSQL).WithArgs(int64(21), int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := adjustStock(context.Background(), tx, items, model.DirectionDeduct)
	require.ErrorIs(t, err, model.ErrInsufficientStock)

	var stockErr *model.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(2), stockErr.ProductID)
	require.NotNil(t, stockErr.VariantID)
	assert.Equal(t, int64(21), *stockErr.VariantID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStock_ParentShortageAfterVariantUpdate(t *testing.T) {
	mock, tx := newMockTx(t)

	mock.ExpectBegin()
	mock.ExpectExec(deductVariantSQL).WithArgs(1, int64(11), int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(deductProductSQL).WithArgs(1, int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(productExistsSQL).WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := adjustStock(context.Background(), tx, []model.StockItem{{ProductID: 1, VariantID: variant(11), Quantity: 1}}, model.DirectionDeduct)

	var stockErr *model.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Nil(t, stockErr.VariantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStock_MissingProductIsNotFound(t *testing.T) {
	mock, tx := newMockTx(t)

	mock.ExpectBegin()
	mock.ExpectExec(deductProductSQL).WithArgs(1, int64(99)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(productExistsSQL).WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := adjustStock(context.Background(), tx, []model.StockItem{{ProductID: 99, Quantity: 1}}, model.DirectionDeduct)
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, errors.Is(err, model.ErrInsufficientStock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStock_RestoreIsCapped(t *testing.T) {
	t.Run("restores variant and parent", func(t *testing.T) {
		mock, tx := newMockTx(t)

		mock.ExpectBegin()
		mock.ExpectExec(restoreVariantSQL).WithArgs(2, int64(11), int64(1), model.MaxStock).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(restoreProductSQL).WithArgs(2, int64(1), model.MaxStock).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := adjustStock(context.Background(), tx, []model.StockItem{{ProductID: 1, VariantID: variant(11), Quantity: 2}}, model.DirectionRestore)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("over the cap", func(t *testing.T) {
		mock, tx := newMockTx(t)

		mock.ExpectBegin()
		mock.ExpectExec(restoreProductSQL).WithArgs(5, int64(1), model.MaxStock).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(productExistsSQL).WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := adjustStock(context.Background(), tx, []model.StockItem{{ProductID: 1, Quantity: 5}}, model.DirectionRestore)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds maximum stock")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdjustStock_RejectsBadInputWithoutSQL(t *testing.T) {
	tests := []struct {
		name  string
		items []model.StockItem
		dir   model.Direction
	}{
		{name: "zero quantity", items: []model.StockItem{{ProductID: 1, Quantity: 0}}, dir: model.DirectionDeduct},
		{name: "merged to negative", items: []model.StockItem{{ProductID: 1, Quantity: 2}, {ProductID: 1, Quantity: -3}}, dir: model.DirectionRestore},
		{name: "unknown direction", items: []model.StockItem{{ProductID: 1, Quantity: 1}}, dir: "SIDEWAYS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, tx := newMockTx(t)

			err := adjustStock(context.Background(), tx, tt.items, tt.dir)
			require.ErrorIs(t, err, model.ErrValidation)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdjustStock_DatabaseErrorAborts(t *testing.T) {
	mock, tx := newMockTx(t)

	mock.ExpectBegin()
	mock.ExpectExec(deductProductSQL).WithArgs(1, int64(1)).WillReturnError(errors.New("conn closed"))
	mock.ExpectRollback()

	err := adjustStock(context.Background(), tx, []model.StockItem{{ProductID: 1, Quantity: 1}}, model.DirectionDeduct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update product stock")
	assert.NoError(t, mock.ExpectationsWereMet())
}
