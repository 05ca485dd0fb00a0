package events

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
)

// Message is the JSON wire form of a domain.Event.
// Amounts are encoded as decimal strings; zero-valued fields are omitted.
type Message struct {
	EventID  string `json:"event_id"`
	OpID     string `json:"op_id"`
	Seq      int    `json:"seq"`
	Kind     string `json:"kind"`
	Time     int64  `json:"time"`
	StreamID uint64 `json:"stream_id,omitempty"`
	Token    string `json:"token,omitempty"`

	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	StartTime int64  `json:"start_time,omitempty"`
	StopTime  int64  `json:"stop_time,omitempty"`

	Deposit         string `json:"deposit,omitempty"`
	Amount          string `json:"amount,omitempty"`
	SenderAmount    string `json:"sender_amount,omitempty"`
	RecipientAmount string `json:"recipient_amount,omitempty"`

	Growth            string `json:"growth,omitempty"`
	SenderInterest    string `json:"sender_interest,omitempty"`
	RecipientInterest string `json:"recipient_interest,omitempty"`
	OperatorInterest  string `json:"operator_interest,omitempty"`

	SenderShare    uint8  `json:"sender_share,omitempty"`
	RecipientShare uint8  `json:"recipient_share,omitempty"`
	FeePercent     *uint8 `json:"fee_percent,omitempty"`
}

// ToMessage converts an event to its wire form.
func ToMessage(e *domain.Event) Message {
	m := Message{
		EventID:   e.EventID,
		OpID:      e.OpID,
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		Time:      e.Time,
		StreamID:  e.StreamID,
		Token:     e.Token,
		Sender:    string(e.Sender),
		Recipient: string(e.Recipient),
		StartTime: e.StartTime,
		StopTime:  e.StopTime,

		Deposit:         amountString(e.Deposit),
		Amount:          amountString(e.Amount),
		SenderAmount:    amountString(e.SenderAmount),
		RecipientAmount: amountString(e.RecipientAmount),

		Growth:            amountString(e.Growth),
		SenderInterest:    amountString(e.SenderInterest),
		RecipientInterest: amountString(e.RecipientInterest),
		OperatorInterest:  amountString(e.OperatorInterest),

		SenderShare:    e.SenderShare,
		RecipientShare: e.RecipientShare,
	}
	// A fee of 0 is meaningful on FEE_UPDATED.
	if e.Kind == domain.EventFeeUpdated {
		fee := e.FeePercent
		m.FeePercent = &fee
	}
	return m
}

// Encode returns the JSON encoding of an event.
func Encode(e *domain.Event) ([]byte, error) {
	return json.Marshal(ToMessage(e))
}

func amountString(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
