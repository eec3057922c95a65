package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScenariosHandler_ListsCatalog(t *testing.T) {
	h := ScenariosHandler{Scenarios: testScenarioHolder(t)}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/scenarios", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Scenarios []struct {
			Name       string   `json:"name"`
			EntryAgent string   `json:"entry_agent"`
			Agents     []string `json:"agents"`
			Source     string   `json:"source"`
		} `json:"scenarios"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Scenarios) != 1 {
		t.Fatalf("scenarios=%+v", resp.Scenarios)
	}
	got := resp.Scenarios[0]
	if got.Name != "simpleHandoff" || got.EntryAgent != "greeter" || len(got.Agents) != 2 || got.Source != "built-in" {
		t.Fatalf("summary=%+v", got)
	}
}

func TestScenariosHandler_NoCatalog(t *testing.T) {
	rr := httptest.NewRecorder()
	ScenariosHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/scenarios", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}
