package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentEventLogStatus string

const (
	PaymentEventLogStatusReceived     PaymentEventLogStatus = "received"
	PaymentEventLogStatusHandled      PaymentEventLogStatus = "handled"
	PaymentEventLogStatusHandleFailed PaymentEventLogStatus = "handle_failed"
)

// PaymentEventLog keeps the raw inbound payload of every webhook delivery and
// verification call for debugging, regardless of processing outcome.
type PaymentEventLog struct {
	ID         string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Authority  string                `gorm:"column:authority;type:varchar(32);not null" json:"authority"`
	UserID     *string               `gorm:"column:user_id;type:varchar(64)" json:"user_id"`
	TraceID    string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	EventID    string                `gorm:"column:event_id;type:varchar(128)" json:"event_id"`
	ReceivedAt time.Time             `gorm:"column:received_at" json:"received_at"`
	Data       datatypes.JSON        `gorm:"column:data;type:jsonb" json:"data"`
	Result     *datatypes.JSON       `gorm:"column:result;type:jsonb" json:"result"`
	Status     PaymentEventLogStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func (PaymentEventLog) TableName() string { return "payment_event_log" }
