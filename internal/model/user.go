package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// User is the persisted onboarded account. (lastname, firstname) is indexed
// but not unique; uniqueness is checked by the duplicate guard.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:16"`
	Lastname     string    `gorm:"column:lastname;not null;index:idx_users_fullname,priority:1"`
	Firstname    string    `gorm:"column:firstname;not null;index:idx_users_fullname,priority:2"`
	Birthdate    string    `gorm:"column:birthdate;size:10;not null"`
	BirthCountry string    `gorm:"column:birthcountry"`
	Address      string    `gorm:"column:address"`
	Email        string    `gorm:"column:email"`
	IDCardRef    string    `gorm:"column:idcardref"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (User) TableName(namer schema.Namer) string {
	return namer.TableName("users")
}

// NewUserFromRecord maps a fully verified record onto the persisted entity.
func NewUserFromRecord(id string, r *WorkflowRecord, now time.Time) *User {
	return &User{
		ID:           id,
		Lastname:     r.Declared.Lastname,
		Firstname:    r.Declared.Firstname,
		Birthdate:    r.Declared.Birthdate,
		BirthCountry: r.Declared.CountryOfBirth,
		Address:      r.VerifiedAddress,
		Email:        r.Declared.Email,
		IDCardRef:    r.IDCardKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
