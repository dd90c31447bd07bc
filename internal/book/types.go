package book

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

const (
	msgTypeDiffOrders = "diff-orders"
	msgTypeKeepAlive  = "ka"

	statusCancelled = "cancelled"

	sideBid = 0
	sideAsk = 1
)

// subscribeMessage opens the diff feed for one book.
type subscribeMessage struct {
	Action string `json:"action"`
	Book   string `json:"book"`
	Type   string `json:"type"`
}

// diffOrder is one price-level change inside a diff message.
type diffOrder struct {
	Rate   decimal.Decimal `json:"r"`
	Amount decimal.Decimal `json:"a"`
	Status string          `json:"s"`
	Side   int             `json:"t"` // 0 = bid, 1 = ask
}

// streamMessage is the envelope of every feed message. Sequence arrives as
// a number or a string depending on the message path, hence json.Number.
type streamMessage struct {
	Type     string      `json:"type"`
	Book     string      `json:"book"`
	Sequence json.Number `json:"sequence"`
	Payload  []diffOrder `json:"payload"`
}

func (m streamMessage) sequence() (int64, bool) {
	if m.Sequence == "" {
		return 0, false
	}
	seq, err := m.Sequence.Int64()
	if err != nil {
		return 0, false
	}
	return seq, true
}
