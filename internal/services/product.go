package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ProductCache holds cached products
type ProductCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

func (c *ProductCache) get(id int64) (*models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, exists := c.items[id]
	if !exists || time.Now().After(cached.expires) {
		return nil, false
	}
	p := cached.product
	return &p, true
}

func (c *ProductCache) put(p models.Product) {
	c.mu.Lock()
	c.items[p.ID] = cachedProduct{product: p, expires: time.Now().Add(5 * time.Minute)}
	c.mu.Unlock()
}

func (c *ProductCache) invalidate(id int64) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}

// ProductService handles catalog operations. Stock mutations during
// checkout bypass this service and go through the checkout
// transaction; admin edits land here.
type ProductService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	cache   ProductCache
}

// NewProductService creates a new product service
func NewProductService(db *db.DB, metrics *metrics.AppMetrics) *ProductService {
	return &ProductService{
		db:      db,
		metrics: metrics,
		cache:   ProductCache{items: make(map[int64]cachedProduct)},
	}
}

// forget drops products from the cache after their stock was written
// outside this service, such as by a checkout decrement.
func (s *ProductService) forget(ids ...int64) {
	for _, id := range ids {
		s.cache.invalidate(id)
	}
}

const productColumns = "id, name, description, price, category, sku, image_url, sizes, stock, created_at, updated_at"

func scanProduct(row interface{ Scan(...interface{}) error }) (*models.Product, error) {
	var p models.Product
	var sizesRaw []byte
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.SKU,
		&p.ImageURL, &sizesRaw, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(sizesRaw, &p.Sizes); err != nil {
		return nil, fmt.Errorf("failed to decode product sizes: %w", err)
	}
	return &p, nil
}

// ListProducts returns a paginated list of products, optionally
// filtered by category.
func (s *ProductService) ListProducts(ctx context.Context, category string, limit, offset int) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	var args []interface{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}

	return products, rows.Err()
}

// GetProduct returns a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if cached, ok := s.cache.get(id); ok {
		s.recordView(ctx, cached)
		return cached, nil
	}

	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE id = ?"
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	s.cache.put(*p)
	s.recordView(ctx, p)
	return p, nil
}

func (s *ProductService) recordView(ctx context.Context, p *models.Product) {
	viewAttrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", p.ID),
		attribute.String("product_category", p.Category),
	})
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(viewAttrs...))
	s.metrics.InventoryLevel.Record(ctx, int64(p.Stock), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", p.ID),
	})...))
}

// CreateProduct stores a new catalog entry. The aggregate stock is
// always recomputed from the sizes, never trusted from the caller.
func (s *ProductService) CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("product name is required")
	}
	if p.Price < 0 {
		return nil, fmt.Errorf("product price cannot be negative")
	}
	for _, size := range p.Sizes {
		if size.Stock < 0 {
			return nil, fmt.Errorf("size %s stock cannot be negative", size.Size)
		}
	}
	p.Stock = p.TotalStock()

	sizes, err := json.Marshal(p.Sizes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sizes: %w", err)
	}

	start := time.Now()
	query := "INSERT INTO products (name, description, price, category, sku, image_url, sizes, stock) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, p.Name, p.Description, p.Price, p.Category, p.SKU, p.ImageURL, sizes, p.Stock)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get product ID: %w", err)
	}
	return s.GetProduct(ctx, id)
}

// UpdateProduct applies a partial admin edit. When sizes change the
// aggregate is recomputed so the sum invariant holds.
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, req models.UpdateProductRequest) (*models.Product, error) {
	current, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Description != nil {
		current.Description = *req.Description
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return nil, fmt.Errorf("product price cannot be negative")
		}
		current.Price = *req.Price
	}
	if req.Category != nil {
		current.Category = *req.Category
	}
	if req.ImageURL != nil {
		current.ImageURL = *req.ImageURL
	}
	if req.Sizes != nil {
		for _, size := range *req.Sizes {
			if size.Stock < 0 {
				return nil, fmt.Errorf("size %s stock cannot be negative", size.Size)
			}
		}
		current.Sizes = *req.Sizes
	}
	current.Stock = current.TotalStock()

	sizes, err := json.Marshal(current.Sizes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sizes: %w", err)
	}

	start := time.Now()
	query := "UPDATE products SET name = ?, description = ?, price = ?, category = ?, image_url = ?, sizes = ?, stock = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, current.Name, current.Description, current.Price, current.Category, current.ImageURL, sizes, current.Stock, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	s.cache.invalidate(id)
	log.Printf("[PRODUCT] Product %d updated, stock=%d", id, current.Stock)
	return s.GetProduct(ctx, id)
}

// DeleteProduct removes a catalog entry.
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	start := time.Now()
	query := "DELETE FROM products WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrProductNotFound
	}

	s.cache.invalidate(id)
	return nil
}
