package store

import "time"

// GORM records for the SQL backend. Table and column names match the v3
// layout shared with the console tooling, so either process can be pointed
// at an existing database.

type requestRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID string `gorm:"uniqueIndex;size:64;not null"`
	AgentID   string `gorm:"index;size:64;default:''"`
	Prompt    string `gorm:"type:text;not null"`
	Payload   string `gorm:"type:text"`
	Status    string `gorm:"index;size:16;default:'PENDING'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (requestRecord) TableName() string { return "cue_requests" }

func (r *requestRecord) toRequest() *Request {
	return &Request{
		ID:        r.ID,
		RequestID: r.RequestID,
		AgentID:   r.AgentID,
		Prompt:    r.Prompt,
		Payload:   r.Payload,
		Status:    Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type responseRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RequestID    string `gorm:"uniqueIndex;size:64;not null"`
	ResponseJSON string `gorm:"column:response_json;type:text;not null"`
	Cancelled    bool   `gorm:"default:false"`
	CreatedAt    time.Time
}

func (responseRecord) TableName() string { return "cue_responses" }

func (r *responseRecord) toResponse() *Response {
	return &Response{
		ID:        r.ID,
		RequestID: r.RequestID,
		Response:  ParseUserResponse(r.ResponseJSON),
		Cancelled: r.Cancelled,
		CreatedAt: r.CreatedAt,
	}
}

type fileRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SHA256    string `gorm:"column:sha256;uniqueIndex;size:64;not null"`
	File      string `gorm:"not null"` // relative path under the data directory
	MimeType  string `gorm:"size:128;not null"`
	SizeBytes int64  `gorm:"not null"`
	CreatedAt time.Time
}

func (fileRecord) TableName() string { return "cue_files" }

type responseFileRecord struct {
	ResponseID uint `gorm:"primaryKey;autoIncrement:false"`
	Idx        int  `gorm:"primaryKey;autoIncrement:false"`
	FileID     uint `gorm:"index;not null"`
}

func (responseFileRecord) TableName() string { return "cue_response_files" }

type schemaMetaRecord struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"not null"`
}

func (schemaMetaRecord) TableName() string { return "schema_meta" }
