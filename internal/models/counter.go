package models

import "time"

type Counter struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	CurrentQueue int        `json:"currentQueue"`
	MaxQueue     int        `json:"maxQueue"`
	IsActive     bool       `json:"isActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

// Serviceable reports whether the counter may take part in claim, call,
// skip and reset operations.
func (c Counter) Serviceable() bool {
	return c.IsActive && c.DeletedAt == nil
}

// NextNumber returns the ticket number the counter issues next. Numbering
// wraps to 1 once maxQueue has been issued.
func (c Counter) NextNumber() int {
	next := c.CurrentQueue + 1
	if next > c.MaxQueue {
		return 1
	}
	return next
}

type CounterSnapshot struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	CurrentQueue int     `json:"currentQueue"`
	MaxQueue     int     `json:"maxQueue"`
	IsActive     bool    `json:"isActive"`
	Status       *string `json:"status"`
}
