package models

// OrderCompleted is the message the order service publishes once payment for
// an order has cleared. Each seat becomes one ticket for the buyer.
type OrderCompleted struct {
	OrderID  string   `json:"order_id"`
	EventID  string   `json:"event_id"`
	UserID   string   `json:"user_id"`
	UserName string   `json:"user_name"`
	Email    string   `json:"email,omitempty"`
	Quantity int      `json:"quantity"`
	Seats    []string `json:"seats,omitempty"`
}

// Requests expands the order into one issue request per ticket. Seats win
// over Quantity when both are present.
func (o OrderCompleted) Requests() []IssueRequest {
	holder := Holder{ID: o.UserID, Name: o.UserName, Email: o.Email}
	if len(o.Seats) > 0 {
		reqs := make([]IssueRequest, 0, len(o.Seats))
		for _, seat := range o.Seats {
			reqs = append(reqs, IssueRequest{Holder: holder, Seat: seat})
		}
		return reqs
	}
	reqs := make([]IssueRequest, 0, o.Quantity)
	for i := 0; i < o.Quantity; i++ {
		reqs = append(reqs, IssueRequest{Holder: holder})
	}
	return reqs
}
