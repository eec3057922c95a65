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

type retailOrder struct {
	OrderID       string       `json:"order_id"`
	OrderDate     string       `json:"order_date"`
	DeliveredDate string       `json:"delivered_date,omitempty"`
	Status        string       `json:"order_status"`
	Subtotal      float64      `json:"subtotal_usd"`
	Items         []retailItem `json:"items"`

	returnWindowOpen bool
}

type retailItem struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"item_name"`
	Category string  `json:"category"`
	Price    float64 `json:"retail_price_usd"`
}

var retailOrders = map[string][]retailOrder{
	"(206) 135-1246": {
		{
			OrderID: "SNP-20230914-001", OrderDate: "2024-09-14", DeliveredDate: "2024-09-16",
			Status: "delivered", Subtotal: 409.98, returnWindowOpen: true,
			Items: []retailItem{
				{ItemID: "SNB-TT-X01", Name: "Twin Tip Snowboard X", Category: "snowboard", Price: 249.99},
				{ItemID: "SNB-BOOT-ALM02", Name: "All-Mountain Snowboard Boots", Category: "boots", Price: 159.99},
			},
		},
		{
			OrderID: "SNP-20230820-002", OrderDate: "2023-08-20",
			Status: "in_transit", Subtotal: 89.99,
			Items: []retailItem{
				{ItemID: "SNB-GOG-S01", Name: "Snow Goggles Pro", Category: "accessories", Price: 89.99},
			},
		},
	},
}

var retailSales = []retailItem{
	{ItemID: "101", Name: "Alpine Blade", Category: "snowboard", Price: 449.99},
	{ItemID: "102", Name: "Peak Bomber", Category: "snowboard", Price: 499.99},
	{ItemID: "201", Name: "Thermal Jacket", Category: "apparel", Price: 179.99},
	{ItemID: "301", Name: "Glacier Grip", Category: "boots", Price: 229.99},
	{ItemID: "401", Name: "Powder Goggles", Category: "accessories", Price: 99.99},
}

var retailPolicies = map[string]string{
	"snowboard":   "Snowboards may be returned within 30 days of delivery if unused and with bindings unmounted. Mounted boards are eligible for store credit only.",
	"boots":       "Boots may be returned within 30 days of delivery if worn indoors only.",
	"apparel":     "Apparel may be returned within 30 days with tags attached.",
	"accessories": "Accessories may be returned within 14 days of delivery in original packaging.",
}

const retailCartKey = "retail.cart"

func retailTools() []tools.Definition {
	phone := func() *jsonschema.Schema { return tools.String("The user's phone number in (xxx) xxx-xxxx format.") }
	return []tools.Definition{
		{
			Name:        "authenticate_user_information",
			Description: "Look up a user's information with phone, last_4_cc_digits, last_4_ssn_digits, and date_of_birth to verify and authenticate the user.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"phone_number":       phone(),
				"last_4_digits":      tools.String("The last four digits of the credit card or SSN."),
				"last_4_digits_type": tools.Enum("Which identifier the digits belong to.", "credit_card", "ssn"),
				"date_of_birth":      tools.String("The user's date of birth in YYYY-MM-DD format."),
			}, "phone_number", "last_4_digits", "last_4_digits_type", "date_of_birth"),
			Handler: func(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
				digits := stringArg(input, "last_4_digits")
				if len(digits) != 4 {
					return nil, core.NewValidationError("last_4_digits must be exactly four digits", "last_4_digits")
				}
				if tc != nil {
					tc.State.Set("retail.phone", stringArg(input, "phone_number"))
				}
				return map[string]any{"success": true}, nil
			},
		},
		{
			Name:        "save_or_update_address",
			Description: "Saves or updates an address for a given phone number.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"phone_number": phone(),
				"new_address": tools.Object(map[string]*jsonschema.Schema{
					"street":      tools.String("Street address including number."),
					"city":        tools.String("City."),
					"state":       tools.String("State or region."),
					"postal_code": tools.String("Postal code."),
				}, "street", "city", "state", "postal_code"),
			}, "phone_number", "new_address"),
			Handler: func(_ context.Context, _ map[string]any, _ *tools.Context) (any, error) {
				return map[string]any{"success": true}, nil
			},
		},
		{
			Name:        "update_user_offer_response",
			Description: "Record the user's response to a promotional offer.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"phone":         phone(),
				"offer_id":      tools.String("The offer identifier."),
				"user_response": tools.Enum("The user's answer.", "ACCEPTED", "DECLINED", "REMIND_LATER"),
			}, "phone", "offer_id", "user_response"),
			Handler: func(_ context.Context, _ map[string]any, _ *tools.Context) (any, error) {
				return map[string]any{"success": true}, nil
			},
		},
		{
			Name:        "lookupOrders",
			Description: "Retrieve detailed order information by the user's phone number, including shipping status and item details.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"phoneNumber": phone(),
			}, "phoneNumber"),
			Handler: func(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
				orders := retailOrders[stringArg(input, "phoneNumber")]
				if orders == nil {
					orders = []retailOrder{}
				}
				return map[string]any{"orders": orders}, nil
			},
		},
		{
			Name:        "retrievePolicy",
			Description: "Retrieve the return policy for an item category.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"region":       tools.String("The region where the user is located."),
				"itemCategory": tools.String("The category of the item the user wants to return."),
			}, "region", "itemCategory"),
			Handler: func(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
				category := strings.ToLower(stringArg(input, "itemCategory"))
				policy, ok := retailPolicies[category]
				if !ok {
					policy = "Items may be returned within 30 days of delivery in original condition."
				}
				return map[string]any{"policy": policy}, nil
			},
		},
		{
			Name:        "checkEligibilityAndPossiblyInitiateReturn",
			Description: "Check the eligibility of a proposed return and initiate it if eligible.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"order_id":          tools.String("The order containing the item."),
				"item_id":           tools.String("The item the user wants to return."),
				"userDesiredAction": tools.String("The proposed action the user wishes to take."),
				"question":          tools.String("Any details about the item's condition the user shared."),
			}, "order_id", "item_id", "userDesiredAction"),
			Handler: checkReturnEligibility,
		},
		{
			Name:        "lookupNewSales",
			Description: "Find current sale items, optionally filtered by category.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"category": tools.Enum("The product category to filter by.", "snowboard", "apparel", "boots", "accessories", "any"),
			}, "category"),
			Handler: func(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
				category := stringArg(input, "category")
				items := []retailItem{}
				for _, it := range retailSales {
					if category == "any" || it.Category == category {
						items = append(items, it)
					}
				}
				return map[string]any{"sales": items}, nil
			},
		},
		{
			Name:        "addToCart",
			Description: "Add a sale item to the user's cart.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"item_id": tools.String("The ID of the item to add to the cart."),
			}, "item_id"),
			Handler: func(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
				state, err := sessionState(tc)
				if err != nil {
					return nil, err
				}
				id := stringArg(input, "item_id")
				if _, ok := saleItem(id); !ok {
					return nil, core.NewValidationError(fmt.Sprintf("unknown item %q", id), "item_id")
				}
				cart := state.Update(retailCartKey, func(cur any) any {
					ids, _ := cur.([]string)
					return append(append([]string(nil), ids...), id)
				}).([]string)
				return map[string]any{"success": true, "cart": cart}, nil
			},
		},
		{
			Name:        "checkout",
			Description: "Initiate a checkout with the user's selected items.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"item_ids":     tools.Array("IDs of items the user confirmed.", tools.String("item id")),
				"phone_number": phone(),
			}, "item_ids", "phone_number"),
			Handler: func(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
				raw, _ := input["item_ids"].([]any)
				if len(raw) == 0 {
					return map[string]any{"checkoutUrl": "", "success": false, "error": "No items selected"}, nil
				}
				total := 0.0
				for _, v := range raw {
					it, ok := saleItem(fmt.Sprint(v))
					if !ok {
						return nil, core.NewValidationError(fmt.Sprintf("unknown item %v", v), "item_ids")
					}
					total += it.Price
				}
				if tc != nil {
					tc.State.Set(retailCartKey, []string(nil))
				}
				return map[string]any{
					"success":     true,
					"total_usd":   total,
					"checkoutUrl": "https://example.com/checkout/" + uuid.NewString(),
				}, nil
			},
		},
	}
}

func saleItem(id string) (retailItem, bool) {
	for _, it := range retailSales {
		if it.ItemID == id {
			return it, true
		}
	}
	return retailItem{}, false
}

func checkReturnEligibility(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
	orderID := stringArg(input, "order_id")
	itemID := stringArg(input, "item_id")
	for _, orders := range retailOrders {
		for _, o := range orders {
			if o.OrderID != orderID {
				continue
			}
			var item *retailItem
			for i := range o.Items {
				if o.Items[i].ItemID == itemID {
					item = &o.Items[i]
				}
			}
			if item == nil {
				return nil, core.NewNotFoundError(fmt.Sprintf("item %q is not part of order %q", itemID, orderID))
			}
			result := map[string]any{"order_id": orderID, "item_id": itemID, "isEligible": false}
			switch {
			case o.Status != "delivered":
				result["rationale"] = "The order has not been delivered yet."
			case !o.returnWindowOpen:
				result["rationale"] = "The return window for this order has closed."
			default:
				rma := "RMA-" + strings.ToUpper(uuid.NewString()[:8])
				result["isEligible"] = true
				result["rationale"] = retailPolicies[item.Category]
				result["returnId"] = rma
				tc.Breadcrumb("return initiated", map[string]any{"order_id": orderID, "item_id": itemID, "return_id": rma})
			}
			return result, nil
		}
	}
	return nil, core.NewNotFoundError(fmt.Sprintf("order %q not found", orderID))
}
