package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Notification is a row in the `notifications` table. (AccountID, Message)
// is unique.
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	AccountID int64     `db:"account_id" json:"account_id"`
	Message   string    `db:"message" json:"message"`
	Data      *Payload  `db:"data" json:"data,omitempty"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Payload is the structured part of a notification, stored as JSON text.
type Payload struct {
	BlockedAccountID int64 `json:"blocked_account_id,omitempty"`
}

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("payload: unsupported type %T", src)
}
