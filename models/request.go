package models

// CollectionRequest is the payload for POST /api/v1/collections.
type CollectionRequest struct {
	// TargetCount is the total number of videos to aim for across all browsers.
	// Default: FEEDHARVEST_DEFAULT_TARGET. An explicit 0 is honored and
	// launches no browsers.
	TargetCount *int `json:"target_count,omitempty" binding:"omitempty,min=0,max=100000"`

	// SentinelUser names the mole whose session seeds every browser. Required.
	SentinelUser string `json:"sentinel_user" binding:"required"`

	// ProxyRegion is the two-letter egress region, e.g. "RO".
	// Default: FEEDHARVEST_DEFAULT_REGION.
	ProxyRegion string `json:"proxy_region,omitempty" binding:"omitempty,len=2,alpha"`

	// Concurrency is the number of browsers to run. Values above the platform
	// maximum are reduced, not rejected. Default: FEEDHARVEST_CONCURRENCY_UNIT.
	Concurrency int `json:"concurrency,omitempty" binding:"omitempty,min=1"`
}

// Defaults applies default values to unset fields.
func (r *CollectionRequest) Defaults(target, concurrency int, region string) {
	if r.TargetCount == nil {
		r.TargetCount = &target
	}
	if r.Concurrency == 0 {
		r.Concurrency = concurrency
	}
	if r.ProxyRegion == "" {
		r.ProxyRegion = region
	}
}

// ToRun converts the payload into an orchestrator request.
func (r *CollectionRequest) ToRun() RunRequest {
	target := 0
	if r.TargetCount != nil {
		target = *r.TargetCount
	}
	return RunRequest{
		TargetCount:  target,
		SentinelUser: r.SentinelUser,
		ProxyRegion:  r.ProxyRegion,
		Concurrency:  r.Concurrency,
	}
}

// MoleRequest is the payload for POST /api/v1/moles.
type MoleRequest struct {
	Name string `json:"name" binding:"required"`

	// Content is the session state blob, stored verbatim.
	Content RawBlob `json:"content" binding:"required"`
}

// RawBlob accepts any JSON value and keeps its bytes.
type RawBlob []byte

// MarshalJSON returns the blob unchanged.
func (b RawBlob) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return b, nil
}

// UnmarshalJSON stores a copy of the raw value.
func (b *RawBlob) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	*b = append((*b)[:0], data...)
	return nil
}
