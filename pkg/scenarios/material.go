package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/tools"
)

const cartKey = "materials.cart"

// CartItem is one line of the session-scoped material cart.
type CartItem struct {
	MaterialType   string `json:"material_type"`
	Size           string `json:"size,omitempty"`
	Quantity       int    `json:"quantity"`
	Unit           string `json:"unit,omitempty"`
	Specifications string `json:"specifications,omitempty"`
}

func materialTools() []tools.Definition {
	return []tools.Definition{
		{
			Name:        "validateMaterialOrder",
			Description: "Check a material request for missing details and ordering problems before it is added to the cart.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"material_type":    tools.String("Material as described by the caller, e.g. EMT conduit, THHN wire."),
				"size":             tools.String("Trade size or gauge, e.g. 1/2, 12 AWG."),
				"quantity":         tools.Number("Requested quantity."),
				"unit":             tools.String("Unit of measure, e.g. ft, each, box."),
				"specifications":   tools.String("Finish, rating or other specifications."),
				"delivery_address": tools.String("Job site delivery address."),
				"delivery_date":    tools.String("Requested delivery date."),
			}, "material_type"),
			Handler: validateMaterialOrder,
		},
		{
			Name:        "addToCart",
			Description: "Add a validated material line to the caller's cart.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"material_type":  tools.String("Material to add."),
				"size":           tools.String("Trade size or gauge."),
				"quantity":       tools.Integer("Quantity; defaults to 1."),
				"unit":           tools.String("Unit of measure."),
				"specifications": tools.String("Finish, rating or other specifications."),
			}, "material_type"),
			Handler: addToCart,
		},
		{
			Name:        "viewCart",
			Description: "Return the current cart contents and totals.",
			Handler:     viewCart,
		},
		{
			Name:        "submitOrder",
			Description: "Submit the cart as an order. Fails when the cart is empty.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"delivery_address": tools.String("Confirmed delivery address."),
				"delivery_date":    tools.String("Confirmed delivery date."),
				"po_number":        tools.String("Customer purchase order number."),
			}),
			Handler: submitOrder,
		},
	}
}

func validateMaterialOrder(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
	material := strings.TrimSpace(stringArg(input, "material_type"))
	unit := strings.ToLower(strings.TrimSpace(stringArg(input, "unit")))
	quantity, hasQuantity := input["quantity"].(float64)

	missing := []string{}
	if strings.TrimSpace(stringArg(input, "size")) == "" {
		missing = append(missing, "size")
	}
	if !hasQuantity {
		missing = append(missing, "quantity")
	}
	if unit == "" {
		missing = append(missing, "unit")
	}
	if strings.TrimSpace(stringArg(input, "delivery_address")) == "" {
		missing = append(missing, "delivery address")
	}
	if strings.TrimSpace(stringArg(input, "delivery_date")) == "" {
		missing = append(missing, "delivery date")
	}

	warnings := []string{}
	if hasQuantity && quantity <= 0 {
		warnings = append(warnings, "Quantity must be greater than zero.")
	}
	if isEMT(material) {
		w := "EMT conduit is sold in 10 ft sticks; order in multiples of 10 feet."
		if hasQuantity && isFeet(unit) && int(quantity)%10 != 0 {
			rounded := (int(quantity)/10 + 1) * 10
			w = fmt.Sprintf("EMT conduit is sold in 10 ft sticks; %g ft is not a multiple of 10 feet, consider %d ft.", quantity, rounded)
		}
		warnings = append(warnings, w)
		if strings.TrimSpace(stringArg(input, "specifications")) == "" {
			missing = append(missing, "specifications")
		}
	}

	return map[string]any{
		"isValid":        len(missing) == 0 && (!hasQuantity || quantity > 0),
		"material_type":  material,
		"missing_fields": missing,
		"warnings":       warnings,
	}, nil
}

func isEMT(material string) bool {
	m := strings.ToLower(material)
	return strings.Contains(m, "emt") || strings.Contains(m, "electrical metallic tubing")
}

func isFeet(unit string) bool {
	switch unit {
	case "ft", "feet", "foot", "'":
		return true
	}
	return false
}

func sessionState(tc *tools.Context) (*tools.State, error) {
	if tc == nil || tc.State == nil {
		return nil, core.NewConfigurationError("tool requires session state")
	}
	return tc.State, nil
}

func cartOf(v any) []CartItem {
	items, _ := v.([]CartItem)
	return items
}

func addToCart(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
	state, err := sessionState(tc)
	if err != nil {
		return nil, err
	}
	item := CartItem{
		MaterialType:   strings.TrimSpace(stringArg(input, "material_type")),
		Size:           strings.TrimSpace(stringArg(input, "size")),
		Quantity:       intArg(input, "quantity", 1),
		Unit:           strings.TrimSpace(stringArg(input, "unit")),
		Specifications: strings.TrimSpace(stringArg(input, "specifications")),
	}
	if item.Quantity <= 0 {
		return nil, core.NewValidationError("quantity must be greater than zero", "quantity")
	}

	var cart []CartItem
	state.Update(cartKey, func(cur any) any {
		cart = append([]CartItem(nil), cartOf(cur)...)
		for i := range cart {
			if strings.EqualFold(cart[i].MaterialType, item.MaterialType) && cart[i].Size == item.Size && cart[i].Unit == item.Unit {
				cart[i].Quantity += item.Quantity
				return cart
			}
		}
		cart = append(cart, item)
		return cart
	})
	tc.Breadcrumb("cart updated", map[string]any{"cart_size": len(cart)})

	return map[string]any{
		"success":   true,
		"item":      item,
		"cart_size": len(cart),
	}, nil
}

func viewCart(_ context.Context, _ map[string]any, tc *tools.Context) (any, error) {
	state, err := sessionState(tc)
	if err != nil {
		return nil, err
	}
	cur, _ := state.Get(cartKey)
	cart := cartOf(cur)
	return map[string]any{
		"items":            nonNilCart(cart),
		"cart_size":        len(cart),
		"total_line_items": totalQuantity(cart),
	}, nil
}

func submitOrder(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
	state, err := sessionState(tc)
	if err != nil {
		return nil, err
	}
	var cart []CartItem
	state.Update(cartKey, func(cur any) any {
		cart = cartOf(cur)
		return []CartItem(nil)
	})
	if len(cart) == 0 {
		return map[string]any{
			"success": false,
			"error":   "Cannot submit empty cart",
		}, nil
	}

	orderNumber := "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	tc.Breadcrumb("order submitted", map[string]any{"order_number": orderNumber})
	return map[string]any{
		"success":          true,
		"order_number":     orderNumber,
		"items":            cart,
		"total_line_items": totalQuantity(cart),
		"delivery_address": stringArg(input, "delivery_address"),
		"delivery_date":    stringArg(input, "delivery_date"),
		"po_number":        stringArg(input, "po_number"),
	}, nil
}

func totalQuantity(cart []CartItem) int {
	total := 0
	for _, item := range cart {
		total += item.Quantity
	}
	return total
}

func nonNilCart(cart []CartItem) []CartItem {
	if cart == nil {
		return []CartItem{}
	}
	return cart
}
