package api

import (
	"net/http"
	"strconv"

	"wagateway/internal/dispatcher"
	"wagateway/internal/middleware"
	"wagateway/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ContactHandler struct {
	DB         *gorm.DB
	Dispatcher *dispatcher.Dispatcher
}

func NewContactHandler(db *gorm.DB, d *dispatcher.Dispatcher) *ContactHandler {
	return &ContactHandler{DB: db, Dispatcher: d}
}

func (h *ContactHandler) findOwned(c *gin.Context) (*models.Contact, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid contact id"})
		return nil, false
	}
	var contact models.Contact
	err = h.DB.Where("id = ? AND user_id = ?", id, middleware.UserID(c)).First(&contact).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return nil, false
	}
	return &contact, true
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	var contacts []models.Contact
	err := h.DB.Where("user_id = ?", middleware.UserID(c)).
		Order("created_at DESC").Find(&contacts).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, gin.H{"data": contacts})
}

type ContactRequest struct {
	Name        string `json:"name" binding:"required"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone" binding:"required"`
	Email       string `json:"email"`
}

func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	contact := models.Contact{
		UserID:      userID,
		Name:        req.Name,
		CountryCode: req.CountryCode,
		Phone:       req.Phone,
		Email:       req.Email,
	}
	if err := h.DB.Create(&contact).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create contact"})
		return
	}

	h.Dispatcher.DispatchContactCreated(userID, &contact)
	c.JSON(http.StatusCreated, gin.H{"message": "Contact created", "data": contact})
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	contact, ok := h.findOwned(c)
	if !ok {
		return
	}

	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contact.Name = req.Name
	contact.CountryCode = req.CountryCode
	contact.Phone = req.Phone
	contact.Email = req.Email
	if err := h.DB.Save(contact).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update contact"})
		return
	}

	h.Dispatcher.DispatchContactUpdated(contact.UserID, contact)
	c.JSON(http.StatusOK, gin.H{"message": "Contact updated", "data": contact})
}

func (h *ContactHandler) DeleteContact(c *gin.Context) {
	contact, ok := h.findOwned(c)
	if !ok {
		return
	}
	if err := h.DB.Delete(contact).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete contact"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Contact deleted"})
}
