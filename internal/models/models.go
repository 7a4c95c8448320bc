package models

import "time"

// SizeStock is a per-size inventory counter embedded in a Product.
type SizeStock struct {
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

// Product represents a product in the catalog. Stock is the
// writer-maintained aggregate and must equal the sum of Sizes stock.
type Product struct {
	ID          int64       `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	Price       int64       `json:"price" db:"price"`
	Category    string      `json:"category" db:"category"`
	SKU         string      `json:"sku" db:"sku"`
	ImageURL    string      `json:"image_url" db:"image_url"`
	Sizes       []SizeStock `json:"sizes" db:"sizes"`
	Stock       int         `json:"stock" db:"stock"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// TotalStock sums the per-size counters.
func (p *Product) TotalStock() int {
	total := 0
	for _, s := range p.Sizes {
		total += s.Stock
	}
	return total
}

// SizeFor returns the size entry matching the given code, or nil.
func (p *Product) SizeFor(size string) *SizeStock {
	for i := range p.Sizes {
		if p.Sizes[i].Size == size {
			return &p.Sizes[i]
		}
	}
	return nil
}

// User represents a user account with profile data
type User struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	Addresses []Address `json:"addresses" db:"addresses"`
	Favorites []int64   `json:"favorites" db:"favorites"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Address is a shipping destination stored on the user record.
type Address struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Province string `json:"province"`
	District string `json:"district"`
	Ward     string `json:"ward"`
	Address  string `json:"address"`
	Default  bool   `json:"default,omitempty"`
}

// CartLine is one (product, size) selection pending purchase. Name,
// price and image are snapshots taken when the line was added.
type CartLine struct {
	ID            int64     `json:"id" db:"id"`
	UserID        int64     `json:"user_id" db:"user_id"`
	ProductID     int64     `json:"product_id" db:"product_id"`
	Name          string    `json:"name" db:"name"`
	Price         int64     `json:"price" db:"price"`
	Size          string    `json:"size" db:"size"`
	Quantity      int       `json:"quantity" db:"quantity"`
	ImageURL      string    `json:"image_url" db:"image_url"`
	StockSnapshot int       `json:"stock_snapshot" db:"stock_snapshot"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Voucher is a discount code with eligibility rules. An empty UserIDs
// list means the code is public; UsedBy lists consuming user ids.
type Voucher struct {
	ID        int64        `json:"id" db:"id"`
	Code      string       `json:"code" db:"code"`
	Type      DiscountType `json:"type" db:"type"`
	Discount  int64        `json:"discount" db:"discount"`
	MinOrder  int64        `json:"min_order" db:"min_order"`
	StartDate time.Time    `json:"start_date" db:"start_date"`
	EndDate   time.Time    `json:"end_date" db:"end_date"`
	UserIDs   []int64      `json:"user_ids,omitempty" db:"user_ids"`
	UsedBy    []int64      `json:"used_by" db:"used_by"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// UsedByUser reports whether the user already consumed this voucher.
func (v *Voucher) UsedByUser(userID int64) bool {
	for _, id := range v.UsedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// AllowedFor reports whether the user may apply this voucher. A voucher
// with no allow-list is open to everyone.
func (v *Voucher) AllowedFor(userID int64) bool {
	if len(v.UserIDs) == 0 {
		return true
	}
	for _, id := range v.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OrderLine is an immutable snapshot of a cart line captured at
// order-creation time. CartLineID is the transient origin line,
// ProductID the durable product identity.
type OrderLine struct {
	ProductID  int64  `json:"product_id"`
	CartLineID int64  `json:"cart_line_id"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	Size       string `json:"size"`
	Quantity   int    `json:"quantity"`
	ImageURL   string `json:"image_url"`
}

// StatusChange is one entry in an order's status history.
type StatusChange struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note"`
}

// Order is the durable record of a completed checkout. Total is
// computed once at submission time and never recomputed from items.
type Order struct {
	ID                  int64          `json:"id" db:"id"`
	UserID              int64          `json:"user_id" db:"user_id"`
	IdempotencyKey      string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Items               []OrderLine    `json:"items" db:"items"`
	ShippingAddress     Address        `json:"shipping_address" db:"shipping_address"`
	ShippingMethod      ShippingMethod `json:"shipping_method" db:"shipping_method"`
	PaymentMethod       PaymentMethod  `json:"payment_method" db:"payment_method"`
	Voucher             *Voucher       `json:"voucher,omitempty" db:"voucher"`
	Subtotal            int64          `json:"subtotal" db:"subtotal"`
	ShippingFee         int64          `json:"shipping_fee" db:"shipping_fee"`
	Discount            int64          `json:"discount" db:"discount"`
	Total               int64          `json:"total" db:"total"`
	Status              OrderStatus    `json:"status" db:"status"`
	StatusHistory       []StatusChange `json:"status_history" db:"status_history"`
	NeedsReconciliation bool           `json:"needs_reconciliation" db:"needs_reconciliation"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

// AddToCartRequest represents a request to add a product+size to the cart
type AddToCartRequest struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

// UpdateCartLineRequest changes the quantity of an existing cart line
type UpdateCartLineRequest struct {
	Quantity int `json:"quantity"`
}

// EvaluateVoucherRequest asks whether a code applies to a prospective order
type EvaluateVoucherRequest struct {
	Code        string `json:"code"`
	Subtotal    int64  `json:"subtotal"`
	ShippingFee int64  `json:"shipping_fee"`
}

// EvaluateVoucherResponse reports the computed discount for a valid code
type EvaluateVoucherResponse struct {
	Voucher        *Voucher `json:"voucher"`
	DiscountAmount int64    `json:"discount_amount"`
}

// CheckoutRequest represents an order placement submission. CartLineIDs
// selects which of the user's cart lines are being purchased.
type CheckoutRequest struct {
	CartLineIDs     []int64        `json:"cart_line_ids"`
	ShippingAddress Address        `json:"shipping_address"`
	ShippingMethod  ShippingMethod `json:"shipping_method"`
	PaymentMethod   PaymentMethod  `json:"payment_method"`
	VoucherCode     string         `json:"voucher_code,omitempty"`
}

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// UpdateUserRequest carries partial profile updates. Nil fields are
// left unchanged.
type UpdateUserRequest struct {
	Name      *string    `json:"name,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	Addresses *[]Address `json:"addresses,omitempty"`
	Favorites *[]int64   `json:"favorites,omitempty"`
}

// UpdateProductRequest carries a partial catalog edit. Nil fields are
// left unchanged; when sizes are replaced the aggregate stock is
// recomputed from them.
type UpdateProductRequest struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Price       *int64       `json:"price,omitempty"`
	Category    *string      `json:"category,omitempty"`
	ImageURL    *string      `json:"image_url,omitempty"`
	Sizes       *[]SizeStock `json:"sizes,omitempty"`
}

// CartResponse represents a user's cart with its lines
type CartResponse struct {
	Items []CartLine `json:"items"`
	Total int64      `json:"total"`
}
