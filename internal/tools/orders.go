package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// OrderTool records a completed purchase into the orders table.
type OrderTool struct {
	orders store.OrderStore
}

func NewOrderTool(orders store.OrderStore) *OrderTool {
	return &OrderTool{orders: orders}
}

func (t *OrderTool) Name() string { return "record_order" }

func (t *OrderTool) Description() string {
	return "Record a confirmed order. Call this only after the customer has provided their full name, phone number, city, post office branch, and confirmed the products and total price."
}

func (t *OrderTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":        map[string]interface{}{"type": "string", "description": "Customer full name"},
			"phone":       map[string]interface{}{"type": "string", "description": "Customer phone number"},
			"city":        map[string]interface{}{"type": "string", "description": "Delivery city"},
			"post_office": map[string]interface{}{"type": "string", "description": "Post office branch number"},
			"products":    map[string]interface{}{"type": "string", "description": "Ordered products, comma separated"},
			"total_price": map[string]interface{}{"type": "string", "description": "Order total with currency"},
		},
		"required": []string{"name", "phone", "city", "post_office", "products", "total_price"},
	}
}

func (t *OrderTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	order := &store.Order{
		UserID:     userIDFromContext(ctx),
		Name:       strArg(args, "name"),
		Phone:      strArg(args, "phone"),
		City:       strArg(args, "city"),
		PostOffice: strArg(args, "post_office"),
		Products:   strArg(args, "products"),
		TotalPrice: strArg(args, "total_price"),
	}

	var missing []string
	for field, v := range map[string]string{
		"name": order.Name, "phone": order.Phone, "city": order.City,
		"post_office": order.PostOffice, "products": order.Products, "total_price": order.TotalPrice,
	} {
		if v == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return ErrorResult(fmt.Sprintf("error: missing fields: %s", strings.Join(missing, ", ")))
	}

	if err := t.orders.Insert(ctx, order); err != nil {
		slog.Error("order insert failed", "user", order.UserID, "error", err)
		return ErrorResult("error: could not save the order, apologize and ask the customer to try again").WithError(err)
	}

	slog.Info("order recorded", "order_id", order.ID, "user", order.UserID)
	return NewResult(fmt.Sprintf(`{"success": true, "message": "Order %s recorded"}`, order.ID))
}

func strArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}
