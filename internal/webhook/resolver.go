package webhook

import (
	"strings"

	"wagateway/internal/models"

	"gorm.io/gorm"
)

// ContactResolver maps inbound sender phone numbers to known contacts.
type ContactResolver struct {
	db *gorm.DB
}

func NewContactResolver(db *gorm.DB) *ContactResolver {
	return &ContactResolver{db: db}
}

// FindByPhone matches either the contact's stored raw phone or its derived
// full phone (country code + phone, separators stripped). First match wins;
// contacts are never auto-created.
func (r *ContactResolver) FindByPhone(phone string) *models.Contact {
	if phone == "" {
		return nil
	}
	clean := strings.TrimPrefix(phone, "+")

	var contact models.Contact
	err := r.db.Where("phone = ? OR full_phone = ?", clean, clean).First(&contact).Error
	if err != nil {
		return nil
	}
	return &contact
}
