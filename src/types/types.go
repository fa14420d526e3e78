package types

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}

// Scan accepts both []byte (postgres) and string (sqlite) column values.
func (a *JSONB) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		*a = nil
		return nil
	default:
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type ReservationStatus string

const (
	RESERVATION_PENDING   ReservationStatus = "PENDING"
	RESERVATION_ACTIVE    ReservationStatus = "ACTIVE"
	RESERVATION_CANCELED  ReservationStatus = "CANCELED"
	RESERVATION_COMPLETED ReservationStatus = "COMPLETED"
)

func ParseReservationStatus(s string) (ReservationStatus, bool) {
	switch st := ReservationStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case RESERVATION_PENDING, RESERVATION_ACTIVE, RESERVATION_CANCELED, RESERVATION_COMPLETED:
		return st, true
	}
	return "", false
}

type JobStatus string

const (
	JOB_PENDING JobStatus = "pending"
	JOB_DONE    JobStatus = "done"
	JOB_FAILED  JobStatus = "failed"
)

// FlexibleID decodes an identifier sent either as a JSON string or a JSON number.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("identifier must be a string or a number")
	}
	if strings.ContainsAny(n.String(), ".eE-") {
		return errors.New("numeric identifier must be a non-negative integer")
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string {
	return string(f)
}

type MetadataAttribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

type TokenMetadata struct {
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description,omitempty"`
	Image       string              `json:"image,omitempty"`
	Attributes  []MetadataAttribute `json:"attributes,omitempty"`
}

type MintReservationRequestBody struct {
	ImovelID    FlexibleID     `json:"imovelId" binding:"required"`
	GuestWallet string         `json:"guestWallet" binding:"required,ethaddr"`
	StartDate   int64          `json:"startDate" binding:"required"`
	EndDate     int64          `json:"endDate" binding:"required"`
	TokenURI    string         `json:"tokenURI,omitempty"`
	Metadata    *TokenMetadata `json:"metadata,omitempty"`
}

type PinMetadataRequestBody struct {
	TokenMetadata
	ImovelID  FlexibleID `json:"imovelId,omitempty"`
	StartDate int64      `json:"startDate,omitempty"`
	EndDate   int64      `json:"endDate,omitempty"`
	Address   string     `json:"endereco,omitempty"`
}

type SetOperatorRequestBody struct {
	Operator string `json:"operador" binding:"required,ethaddr"`
	Approved *bool  `json:"aprovado" binding:"required"`
}

type TokenURIParams struct {
	TokenID string `uri:"tokenId" binding:"required,numeric"`
}

type PropertyURIParams struct {
	PropertyID string `uri:"propertyId" binding:"required"`
}

type AvailabilityQuery struct {
	Start int64 `form:"start" binding:"required"`
	End   int64 `form:"end" binding:"required"`
}

type ReservationsQueryFilters struct {
	Property string `form:"property,omitempty"`
	Guest    string `form:"guest,omitempty" binding:"omitempty,ethaddr"`
	Status   string `form:"status,omitempty"`
}

type ChallengeRequestBody struct {
	Wallet string `json:"wallet" binding:"required,ethaddr"`
}

type VerifyRequestBody struct {
	Wallet    string `json:"wallet" binding:"required,ethaddr"`
	Signature string `json:"signature" binding:"required"`
}

// LifecycleEvent is the payload published for every applied transition.
type LifecycleEvent struct {
	Type       string            `json:"type"`
	TokenID    string            `json:"tokenId"`
	PropertyID string            `json:"propertyId"`
	Status     ReservationStatus `json:"status"`
	Tx         string            `json:"tx,omitempty"`
	Caller     string            `json:"caller,omitempty"`
	At         time.Time         `json:"at"`
}

func (e LifecycleEvent) JSONB() JSONB {
	return JSONB{
		"type":       e.Type,
		"tokenId":    e.TokenID,
		"propertyId": e.PropertyID,
		"status":     string(e.Status),
		"tx":         e.Tx,
		"caller":     e.Caller,
		"at":         e.At.UTC().Format(time.RFC3339),
	}
}

// Handler processes one queued message. A nil error acknowledges it.
type Handler func(ctx context.Context, payload string) error
