package models

// Admin extends a User with administrator permissions.
type Admin struct {
	TelegramID int64 `gorm:"primaryKey;autoIncrement:false"`
	User       User  `gorm:"foreignKey:TelegramID;references:TelegramID"`

	BlockUsers bool `gorm:"not null;default:false"`
	IsOwner    bool `gorm:"not null;default:false"`
	LiveMode   bool `gorm:"not null;default:false"`
}

func (Admin) TableName() string { return "admins" }
