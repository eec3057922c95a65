package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/tools"
)

type account struct {
	AccountID    string  `json:"account_id"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Plan         string  `json:"plan"`
	BalanceDue   float64 `json:"balance_due_usd"`
	LastBillDate string  `json:"last_bill_date"`
	DataUsedGB   float64 `json:"data_used_gb"`
	DataLimitGB  float64 `json:"data_limit_gb"`
	AutoPay      bool    `json:"autopay"`
}

var accounts = map[string]account{
	"+1-206-135-1246": {
		AccountID: "NT-123456", Name: "Alex Johnson", Phone: "+1-206-135-1246",
		Plan: "Unlimited Plus", BalanceDue: 42.17, LastBillDate: "2024-05-15",
		DataUsedGB: 8.2, DataLimitGB: 50, AutoPay: true,
	},
}

var policyDocuments = []struct {
	ID      string
	Topic   string
	Content string
}{
	{"ID-010", "family plan policy", "The family plan allows up to 5 lines per account. All lines share a single data pool. Each additional line after the first receives a 10% discount."},
	{"ID-020", "promotions and discounts", "The Summer Unlimited Deal is available through August 31. New lines receive a free device with a 24 month commitment."},
	{"ID-030", "international plans", "International add-ons cover 140 countries. Daily passes are $10 per day and apply only on days the device is used abroad."},
	{"ID-040", "handset offers", "Handsets from all major brands are eligible for trade-in credit. Credit is applied over 24 monthly bills."},
}

var stores = []struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	ZipCode string  `json:"zip_code"`
	Phone   string  `json:"phone"`
	Hours   string  `json:"hours"`
	Miles   float64 `json:"distance_miles"`
}{
	{"NewTelco San Francisco Downtown Store", "1 Market St, San Francisco, CA", "94105", "(415) 555-1001", "Mon-Sat 10am-7pm, Sun 11am-5pm", 0.9},
	{"NewTelco Seattle Capitol Hill Store", "401 Broadway E, Seattle, WA", "98102", "(206) 555-1002", "Mon-Sat 10am-8pm, Sun 11am-6pm", 1.4},
	{"NewTelco Austin Domain Store", "11410 Century Oaks Ter, Austin, TX", "78758", "(512) 555-1003", "Mon-Sat 10am-9pm, Sun 12pm-6pm", 2.1},
}

func accountTools() []tools.Definition {
	return []tools.Definition{
		{
			Name:        "getUserAccountInfo",
			Description: "Retrieve user account and billing information. Read-only.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"phone_number": tools.String("Formatted as '(xxx) xxx-xxxx'. MUST be provided by the user, never a null or empty string."),
			}, "phone_number"),
			Handler: func(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
				key := normalizePhone(stringArg(input, "phone_number"))
				acct, ok := accounts[key]
				if !ok {
					return nil, core.NewNotFoundError("no account found for that phone number")
				}
				return acct, nil
			},
		},
		{
			Name:        "lookupPolicyDocument",
			Description: "Look up internal documents and policies by topic or keyword.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"topic": tools.String("The topic or keyword to search for in company policies or documents."),
			}, "topic"),
			Handler: func(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
				topic := strings.ToLower(stringArg(input, "topic"))
				matches := []map[string]string{}
				for _, doc := range policyDocuments {
					if strings.Contains(doc.Topic, topic) || strings.Contains(topic, strings.Fields(doc.Topic)[0]) {
						matches = append(matches, map[string]string{"id": doc.ID, "topic": doc.Topic, "content": doc.Content})
					}
				}
				return map[string]any{"documents": matches}, nil
			},
		},
		{
			Name:        "findNearestStore",
			Description: "Find the nearest store location given a customer's zip code.",
			Parameters: tools.Object(map[string]*jsonschema.Schema{
				"zip_code": tools.String("The customer's 5-digit zip code."),
			}, "zip_code"),
			Handler: func(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
				zip := strings.TrimSpace(stringArg(input, "zip_code"))
				if len(zip) != 5 {
					return nil, core.NewValidationError("zip_code must have 5 digits", "zip_code")
				}
				best := stores[0]
				bestScore := -1
				for _, s := range stores {
					score := commonPrefix(s.ZipCode, zip)
					if score > bestScore {
						best, bestScore = s, score
					}
				}
				return map[string]any{"stores": []any{best}}, nil
			},
		},
	}
}

// normalizePhone renders any 10 digit US number as +1-xxx-xxx-xxxx.
func normalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := strings.TrimPrefix(digits.String(), "1")
	if len(d) != 10 {
		return raw
	}
	return fmt.Sprintf("+1-%s-%s-%s", d[:3], d[3:6], d[6:])
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
