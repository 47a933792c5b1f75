package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPriceLevel_MarshalJSON(t *testing.T) {
	level := PriceLevel{
		Price: decimal.RequireFromString("100.00"),
		Size:  decimal.RequireFromString("1.5"),
	}

	data, err := json.Marshal(level)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != "[100,1.5]" {
		t.Errorf("Marshal = %s, want [100,1.5]", data)
	}
}

func TestPriceLevel_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		price   string
		size    string
		wantErr bool
	}{
		{"strings", `["101.25","0.5"]`, "101.25", "0.5", false},
		{"numbers", `[101.25,0.5]`, "101.25", "0.5", false},
		{"extra elements", `["1","2","x"]`, "1", "2", false},
		{"too short", `["1"]`, "", "", true},
		{"bad price", `["abc","1"]`, "", "", true},
		{"not an array", `{"price":"1"}`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var level PriceLevel
			err := json.Unmarshal([]byte(tt.input), &level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if !level.Price.Equal(decimal.RequireFromString(tt.price)) {
				t.Errorf("Price = %s, want %s", level.Price, tt.price)
			}
			if !level.Size.Equal(decimal.RequireFromString(tt.size)) {
				t.Errorf("Size = %s, want %s", level.Size, tt.size)
			}
		})
	}
}

func TestBookView_JSON(t *testing.T) {
	view := BookView{
		ProductID: "BTC-USD",
		Bids:      []PriceLevel{{Price: decimal.RequireFromString("100.00"), Size: decimal.RequireFromString("1.0")}},
		Asks:      []PriceLevel{},
	}

	data, err := json.Marshal(Level2Update(view))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"type":"level2Update","data":{"product_id":"BTC-USD","bids":[[100,1]],"asks":[]}}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}

func TestTickerUpdate_KeepsPayload(t *testing.T) {
	payload := json.RawMessage(`{"type":"ticker","product_id":"ETH-USD","price":"2000.01"}`)

	data, err := json.Marshal(TickerUpdate(payload))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"type":"tickerUpdate","data":{"type":"ticker","product_id":"ETH-USD","price":"2000.01"}}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}
