package main

import (
	"flag"
	"log"

	"wagateway/internal/cache"
	"wagateway/internal/config"
	"wagateway/internal/database"
	"wagateway/internal/models"
	"wagateway/internal/webhook"
)

// Reprocesses stored webhook payloads that never reached "processed", or a
// single payload by id. Message-id dedup makes this safe to run repeatedly.
func main() {
	id := flag.Uint("id", 0, "process a specific whatsapp_data id")
	flag.Parse()

	cfg := config.LoadConfig()
	db := database.InitGorm(cfg)

	processor := webhook.NewProcessor(db, cache.New(cfg.DedupTTL), nil)

	var records []models.WhatsappData
	if *id != 0 {
		var record models.WhatsappData
		if err := db.First(&record, *id).Error; err != nil {
			log.Fatalf("WhatsappData with ID %d not found", *id)
		}
		records = append(records, record)
	} else {
		err := db.Where("status IS NULL OR status != ?", "processed").Find(&records).Error
		if err != nil {
			log.Fatalf("Failed to load payloads: %v", err)
		}
	}

	log.Printf("Found %d entries to process", len(records))

	for i := range records {
		record := &records[i]
		log.Printf("Processing WhatsappData ID: %d", record.ID)
		if err := processor.Reprocess(record); err != nil {
			log.Printf("  Skipping %d: %v", record.ID, err)
		}
	}

	var count int64
	db.Model(&models.Message{}).Count(&count)
	log.Printf("Done! Messages in database: %d", count)
}
