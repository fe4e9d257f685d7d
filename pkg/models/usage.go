package models

import "time"

// Subscription is a tenant's billing-tier record. Core only reads the tier
// for quota lookups — checkout/portal integration is out of scope.
type Subscription struct {
	ID                          int64
	CompanyID                   string
	Tier                        SubscriptionTier
	Status                      SubscriptionStatus
	CurrentPeriodStart          time.Time
	CurrentPeriodEnd            time.Time
	PaymentProviderSubscriptionID *string
}

// UsageEventMetadata carries the discriminated extra fields of a usage
// event (e.g. refund linkage). Marshaled to/from event_metadata_json.
type UsageEventMetadata struct {
	DocumentID       *int64  `json:"document_id,omitempty"`
	RefundForEventID *int64  `json:"refund_for_event_id,omitempty"`
	Reason           *string `json:"reason,omitempty"`
	ChunkCount       *int    `json:"chunk_count,omitempty"`
}

// UsageEvent is one signed row in the append-only usage ledger. Refunds are
// new rows with negative Quantity and Metadata.RefundForEventID set.
type UsageEvent struct {
	ID            int64
	CompanyID     string
	UserID        *string
	EventType     UsageEventType
	Quantity      int64
	FileSizeBytes *int64
	Metadata      UsageEventMetadata
	CreatedAt     time.Time
}
