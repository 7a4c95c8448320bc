package services

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	storedb "github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestMetrics(t *testing.T) *metrics.AppMetrics {
	t.Helper()
	meter := noop.NewMeterProvider().Meter("test")

	queries, err := meter.Int64Counter("db.client.queries.count")
	require.NoError(t, err)
	duration, err := meter.Float64Histogram("db.client.queries.duration")
	require.NoError(t, err)
	conflicts, err := meter.Int64Counter("stock_conflicts_total")
	require.NoError(t, err)

	return &metrics.AppMetrics{
		DBQueriesTotal:  queries,
		DBQueryDuration: duration,
		StockConflicts:  conflicts,
	}
}

func newCheckoutFixture(t *testing.T) (*CheckoutService, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	products := &ProductService{cache: ProductCache{items: make(map[int64]cachedProduct)}}
	svc := &CheckoutService{
		db:       &storedb.DB{DB: mockDB},
		metrics:  newTestMetrics(t),
		products: products,
		now:      time.Now,
	}
	return svc, mock
}

func reservationOrder(createdAt time.Time) *models.Order {
	return &models.Order{
		UserID: 7,
		Items: []models.OrderLine{
			{ProductID: 1, CartLineID: 9, Name: "Basic Tee", Price: 120000, Size: "M", Quantity: 2},
		},
		ShippingMethod: models.ShippingStandard,
		PaymentMethod:  models.PaymentCOD,
		Subtotal:       240000,
		ShippingFee:    30000,
		Total:          270000,
		Status:         models.StatusPending,
		StatusHistory: []models.StatusChange{
			{Status: models.StatusPending, Timestamp: createdAt, Note: "Order placed"},
		},
		CreatedAt: createdAt,
	}
}

func TestReserveAndCreate(t *testing.T) {
	svc, mock := newCheckoutFixture(t)
	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	order := reservationOrder(createdAt)

	// contaminated cache entry from before the checkout
	svc.products.cache.put(models.Product{ID: 1, Name: "Basic Tee", Sizes: []models.SizeStock{{Size: "M", Stock: 5}}})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, sizes FROM products WHERE id = ? FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "sizes"}).
			AddRow("Basic Tee", `[{"size":"M","stock":5}]`))
	// stock 5 minus quantity 2 leaves 3, and the aggregate follows
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET sizes = ?, stock = ? WHERE id = ?")).
		WithArgs(sqlmock.AnyArg(), 3, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// created_at is bound from the order, not left to the database
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), createdAt).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_tasks")).
		WithArgs(sqlmock.AnyArg(), int64(42), TaskDeleteCartLine, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.reserveAndCreate(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.ID)
	assert.NoError(t, mock.ExpectationsWereMet())

	// the stale cache entry must be gone after the commit
	_, cached := svc.products.cache.get(1)
	assert.False(t, cached, "checkout must drop the product from the catalog cache")
}

func TestReserveAndCreateProductVanished(t *testing.T) {
	svc, mock := newCheckoutFixture(t)
	order := reservationOrder(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, sizes FROM products WHERE id = ? FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := svc.reserveAndCreate(context.Background(), order)

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, []string{"cannot check stock for Basic Tee"}, stockErr.Problems)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveAndCreateStockTakenUnderLock(t *testing.T) {
	svc, mock := newCheckoutFixture(t)
	order := reservationOrder(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	// a concurrent checkout drained the size between pre-flight and lock
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, sizes FROM products WHERE id = ? FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "sizes"}).
			AddRow("Basic Tee", `[{"size":"M","stock":1}]`))
	mock.ExpectRollback()

	err := svc.reserveAndCreate(context.Background(), order)

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, []string{"Basic Tee size M only has 1 left"}, stockErr.Problems)
	assert.NoError(t, mock.ExpectationsWereMet())
}
