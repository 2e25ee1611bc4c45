package model

import "time"

// Listing はマーケットプレイスの出品を表す。
// Title、Descriptionはサニタイズ済みの値のみを保持する。
type Listing struct {
	ID          int64
	UserID      int64
	Title       string
	Description *string
	Price       int
	CreatedAt   time.Time
}
