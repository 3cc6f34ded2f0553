package api

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/models"
)

func TestToScoreRequestCarriesRawFields(t *testing.T) {
	req := CheckTransactionRequest{
		TransactionID:   "tx-1",
		UserID:          "user-1",
		Amount:          decimal.NewFromInt(500),
		Currency:        "NGN",
		TransactionType: models.TxTransfer,
		Vertical:        models.VerticalFintech,
		BVN:             "12345678901",
		Phone:           "+2348012345678",
		Email:           "user@example.com",
		DeviceID:        "device-1",
		IPAddress:       "10.0.0.1",
	}

	got := toScoreRequest(req)

	if got.TransactionID != req.TransactionID || got.BVN != req.BVN || got.Phone != req.Phone {
		t.Fatalf("toScoreRequest dropped or mutated raw fields: %+v", got)
	}
	if !got.Amount.Equal(req.Amount) {
		t.Fatalf("expected amount %s, got %s", req.Amount, got.Amount)
	}
}

func TestToTransactionResponseOmitsInternalFields(t *testing.T) {
	tx := &models.Transaction{
		TransactionID:  "tx-1",
		BVNHash:        "should-never-appear",
		PhoneHash:      "should-never-appear",
		DeviceID:       "should-never-appear",
		IPAddress:      "10.0.0.1",
		RiskScore:      77,
		RiskLevel:      models.RiskHigh,
		Recommendation: models.RecommendReview,
		Flags:          nil,
	}

	resp := toTransactionResponse(tx)

	if resp.TransactionID != tx.TransactionID {
		t.Fatalf("expected transaction id to survive projection")
	}
	if resp.Flags == nil {
		t.Fatalf("expected nil Flags to be normalized to an empty slice, not left nil")
	}
	if len(resp.Flags) != 0 {
		t.Fatalf("expected no flags")
	}

	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	if strings.Contains(string(body), "should-never-appear") || strings.Contains(string(body), "10.0.0.1") {
		t.Fatalf("response leaked internal fields: %s", body)
	}
}

func TestPlanForTiers(t *testing.T) {
	cases := []struct {
		limit int
		want  string
	}{
		{limit: 100, want: "standard"},
		{limit: 500, want: "growth"},
		{limit: 4999, want: "growth"},
		{limit: 5000, want: "enterprise"},
		{limit: 50000, want: "enterprise"},
	}
	for _, tc := range cases {
		if got := planFor(tc.limit); got != tc.want {
			t.Errorf("planFor(%d) = %q, want %q", tc.limit, got, tc.want)
		}
	}
}
