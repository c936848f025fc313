package alpaca

import "time"

// Alpaca's trading API serializes most numeric fields as JSON strings.

type clockResponse struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type accountResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Equity string `json:"equity"`
	Cash   string `json:"cash"`
}

type orderResponse struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           string    `json:"qty"`
	FilledQty     string    `json:"filled_qty"`
	Status        string    `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

type latestTradeResponse struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		Price     float64   `json:"p"`
		Size      int64     `json:"s"`
		Timestamp time.Time `json:"t"`
	} `json:"trade"`
}

type barsResponse struct {
	Symbol string `json:"symbol"`
	Bars   []struct {
		Timestamp time.Time `json:"t"`
		Open      float64   `json:"o"`
		High      float64   `json:"h"`
		Low       float64   `json:"l"`
		Close     float64   `json:"c"`
		Volume    int64     `json:"v"`
	} `json:"bars"`
	NextPageToken string `json:"next_page_token"`
}
