package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CredentialState string

const (
	// CredentialPending means no usable login secret exists yet.
	CredentialPending   CredentialState = "pending"
	CredentialActive    CredentialState = "active"
	CredentialSuspended CredentialState = "suspended"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleSupport  Role = "support"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSupport, RoleAdmin:
		return true
	}
	return false
}

// PlanTier is informational. It never gates balance math.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanBasic    PlanTier = "basic"
	PlanComplete PlanTier = "complete"
	PlanPremium  PlanTier = "premium"
)

func ParsePlanTier(raw string) (PlanTier, bool) {
	switch PlanTier(raw) {
	case PlanFree, PlanBasic, PlanComplete, PlanPremium:
		return PlanTier(raw), true
	}
	return "", false
}

type Preferences struct {
	Notifications  bool `json:"notifications"`
	EmailMarketing bool `json:"emailMarketing"`
}

func DefaultPreferences() Preferences {
	return Preferences{Notifications: true, EmailMarketing: false}
}

func (p Preferences) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Preferences) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = DefaultPreferences()
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported preferences value")
	}
	if len(raw) == 0 {
		*p = DefaultPreferences()
		return nil
	}
	return json.Unmarshal(raw, p)
}

// Account is the ledger owner. Balance is only ever changed by ledger
// operations; everything else here is identity and profile.
type Account struct {
	ID                 snowflake.ID    `json:"id"`
	ExternalID         string          `json:"cpf"`
	Email              string          `json:"email"`
	Name               string          `json:"name"`
	Phone              string          `json:"phone"`
	PasswordHash       string          `json:"-"`
	CredentialState    CredentialState `json:"credential_state"`
	ContactPlaceholder bool            `json:"contact_placeholder"`
	SetupTokenHash     *string         `json:"-"`
	Balance            int64           `json:"credits"`
	PlanTier           PlanTier        `json:"plan"`
	Role               Role            `json:"role"`
	IsActive           bool            `json:"is_active"`
	Preferences        Preferences     `json:"preferences"`
	LastLoginAt        *time.Time      `json:"last_login_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CanAuthenticate reports whether the account may hold a session.
func (a Account) CanAuthenticate() bool {
	return a.IsActive && a.CredentialState == CredentialActive
}
