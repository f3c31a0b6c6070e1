package models

import (
	"time"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime" msgpack:"updated_at"`
}
