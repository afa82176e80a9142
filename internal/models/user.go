package models

import (
	"fmt"
	"time"
)

// User is a Telegram user who contacted the bot at least once. The primary key
// is the platform-assigned id, not an autoincrement. Rows are never deleted.
type User struct {
	TelegramID int64  `gorm:"primaryKey;autoIncrement:false"`
	FirstName  string `gorm:"size:255;not null"`
	LastName   string `gorm:"size:255"`
	Username   string `gorm:"size:255"`
	Language   string `gorm:"size:8;not null"`

	// Referral data. ReferredByID is the only owned side of the relation;
	// ReferredBy and Referred are filled by explicit Preload, never lazily.
	ReferralLink string `gorm:"size:255"`
	ReferredByID *int64 `gorm:"index"`
	ReferredBy   *User  `gorm:"foreignKey:ReferredByID;references:TelegramID"`
	Referred     []User `gorm:"foreignKey:ReferredByID;references:TelegramID"`

	Blocked bool `gorm:"not null;default:false"`
	Joined  bool `gorm:"not null;default:false"`

	// Wallet and reward data. Reward and Claimed only ever grow.
	Wallet  string  `gorm:"size:255"`
	Reward  float64 `gorm:"not null;default:0"`
	Claimed float64 `gorm:"not null;default:0"`

	// Set after the human-verification challenge is passed.
	Verified bool `gorm:"not null;default:false"`

	CreatedAt time.Time
}

func (User) TableName() string { return "users" }

// String describes the user in the best way possible given the available data.
func (u *User) String() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

func (u *User) FullName() string {
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

// Mention renders an HTML mention that works even without a username.
func (u *User) Mention() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.TelegramID, u.FullName())
}

// Referrals counts referred users that completed the join flow.
func (u *User) Referrals() int {
	n := 0
	for i := range u.Referred {
		if u.Referred[i].Joined {
			n++
		}
	}
	return n
}
