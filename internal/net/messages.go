package net

import (
	"encoding/binary"
	"errors"

	"mimir/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	SubmitOrder
	CancelOrder
	ModifyOrder
	LogBook
)

type ReportMessageType int

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	BaseMessageHeaderLen  = 2
	SubmitOrderMessageLen = 8 + 2 + 1 + 8 + 8 + 1
	CancelOrderMessageLen = 8
	ModifyOrderMessageLen = 8 + 1 + 8 + 8
	ReportFixedHeaderLen  = 1 + 1 + 8 + 8 + 8 + 8 + 4
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[BaseMessageHeaderLen:]
	switch typeOf {
	case SubmitOrder:
		return parseSubmitOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case ModifyOrder:
		return parseModifyOrder(msg)
	case LogBook:
		return BaseMessage{TypeOf: LogBook}, nil
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

type SubmitOrderMessage struct {
	BaseMessage
	OrderID   common.OrderID   // 8 bytes
	OrderType common.OrderType // 2 bytes
	Side      common.Side      // 1 byte
	Price     common.Price     // 8 bytes, ignored for market orders
	Quantity  common.Quantity  // 8 bytes
	OwnerLen  uint8            // 1 byte
	Owner     string           // n bytes
}

// Order builds the book order for this submission. Market orders carry the
// invalid-price sentinel until the book promotes them.
func (m *SubmitOrderMessage) Order() *common.Order {
	if m.OrderType == common.Market {
		return common.NewMarketOrder(m.OrderID, m.Side, m.Quantity)
	}
	return common.NewOrder(m.OrderType, m.OrderID, m.Side, m.Price, m.Quantity)
}

func parseSubmitOrder(msg []byte) (*SubmitOrderMessage, error) {
	if len(msg) < SubmitOrderMessageLen {
		return nil, ErrMessageTooShort
	}

	m := &SubmitOrderMessage{BaseMessage: BaseMessage{TypeOf: SubmitOrder}}
	m.OrderID = common.OrderID(binary.BigEndian.Uint64(msg[0:8]))
	m.OrderType = common.OrderType(binary.BigEndian.Uint16(msg[8:10]))
	m.Side = common.Side(msg[10])
	m.Price = common.Price(binary.BigEndian.Uint64(msg[11:19]))
	m.Quantity = common.Quantity(binary.BigEndian.Uint64(msg[19:27]))
	m.OwnerLen = msg[27]

	if len(msg) < SubmitOrderMessageLen+int(m.OwnerLen) {
		return nil, ErrMessageTooShort
	}
	m.Owner = string(msg[28 : 28+int(m.OwnerLen)])

	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	OrderID common.OrderID // 8 bytes
}

func parseCancelOrder(msg []byte) (*CancelOrderMessage, error) {
	if len(msg) < CancelOrderMessageLen {
		return nil, ErrMessageTooShort
	}
	return &CancelOrderMessage{
		BaseMessage: BaseMessage{TypeOf: CancelOrder},
		OrderID:     common.OrderID(binary.BigEndian.Uint64(msg[0:8])),
	}, nil
}

type ModifyOrderMessage struct {
	BaseMessage
	OrderID  common.OrderID  // 8 bytes
	Side     common.Side     // 1 byte
	Price    common.Price    // 8 bytes
	Quantity common.Quantity // 8 bytes
}

func (m *ModifyOrderMessage) Modify() common.Modify {
	return common.Modify{
		ID:       m.OrderID,
		Side:     m.Side,
		Price:    m.Price,
		Quantity: m.Quantity,
	}
}

func parseModifyOrder(msg []byte) (*ModifyOrderMessage, error) {
	if len(msg) < ModifyOrderMessageLen {
		return nil, ErrMessageTooShort
	}

	m := &ModifyOrderMessage{BaseMessage: BaseMessage{TypeOf: ModifyOrder}}
	m.OrderID = common.OrderID(binary.BigEndian.Uint64(msg[0:8]))
	m.Side = common.Side(msg[8])
	m.Price = common.Price(binary.BigEndian.Uint64(msg[9:17]))
	m.Quantity = common.Quantity(binary.BigEndian.Uint64(msg[17:25]))

	return m, nil
}

// Report is the outbound wire record for executions and errors.
type Report struct {
	MessageType    ReportMessageType // 1 byte
	Side           common.Side       // 1 byte
	OrderID        common.OrderID    // 8 bytes
	CounterOrderID common.OrderID    // 8 bytes
	Price          common.Price      // 8 bytes
	Quantity       common.Quantity   // 8 bytes
	ErrStrLen      uint32            // 4 bytes
	Err            string            // n bytes
}

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() []byte {
	buf := make([]byte, ReportFixedHeaderLen+len(r.Err))
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], uint64(r.OrderID))
	binary.BigEndian.PutUint64(buf[10:18], uint64(r.CounterOrderID))
	binary.BigEndian.PutUint64(buf[18:26], uint64(r.Price))
	binary.BigEndian.PutUint64(buf[26:34], uint64(r.Quantity))
	binary.BigEndian.PutUint32(buf[34:38], r.ErrStrLen)
	copy(buf[ReportFixedHeaderLen:], r.Err)
	return buf
}

// ParseReport decodes a report read off the wire; the buffer must contain
// the fixed header plus the trailing error string.
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < ReportFixedHeaderLen {
		return Report{}, ErrMessageTooShort
	}

	r := Report{
		MessageType:    ReportMessageType(buf[0]),
		Side:           common.Side(buf[1]),
		OrderID:        common.OrderID(binary.BigEndian.Uint64(buf[2:10])),
		CounterOrderID: common.OrderID(binary.BigEndian.Uint64(buf[10:18])),
		Price:          common.Price(binary.BigEndian.Uint64(buf[18:26])),
		Quantity:       common.Quantity(binary.BigEndian.Uint64(buf[26:34])),
		ErrStrLen:      binary.BigEndian.Uint32(buf[34:38]),
	}
	if len(buf) < ReportFixedHeaderLen+int(r.ErrStrLen) {
		return Report{}, ErrMessageTooShort
	}
	r.Err = string(buf[ReportFixedHeaderLen : ReportFixedHeaderLen+int(r.ErrStrLen)])
	return r, nil
}

// generateWireTradeReports builds the two execution reports for one trade,
// each addressed to the respective party and priced at that party's own
// resting price.
func generateWireTradeReports(trade common.Trade) ([]byte, []byte) {
	bidReport := Report{
		MessageType:    ExecutionReport,
		Side:           common.Buy,
		OrderID:        trade.Bid.OrderID,
		CounterOrderID: trade.Ask.OrderID,
		Price:          trade.Bid.Price,
		Quantity:       trade.Bid.Quantity,
	}
	askReport := Report{
		MessageType:    ExecutionReport,
		Side:           common.Sell,
		OrderID:        trade.Ask.OrderID,
		CounterOrderID: trade.Bid.OrderID,
		Price:          trade.Ask.Price,
		Quantity:       trade.Ask.Quantity,
	}
	return bidReport.Serialize(), askReport.Serialize()
}

func generateWireErrorReport(err error) []byte {
	errStr := err.Error()
	report := Report{
		MessageType: ErrorReport,
		ErrStrLen:   uint32(len(errStr)),
		Err:         errStr,
	}
	return report.Serialize()
}
