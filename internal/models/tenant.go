package models

import "time"

// Tenant is the root of all isolation boundaries. Every Integration, Job,
// RawRecord, QueueMessage and VectorRecord carries a TenantID and every
// storage query is scoped by it.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
