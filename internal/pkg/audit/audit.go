package audit

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"
	"github.com/replyhub/replyhub/app/models"
	"gorm.io/gorm"
)

// Sink is an append-only audit trail. Writes must not be skipped on failure
// paths; callers log and continue if the sink itself errors.
type Sink interface {
	Record(actor, action, targetType, targetID string, details interface{}) error
}

type dbSink struct {
	db *gorm.DB
}

// NewSink creates an audit sink backed by the audit_logs table.
func NewSink(db *gorm.DB) Sink {
	return &dbSink{db: db}
}

func (s *dbSink) Record(actor, action, targetType, targetID string, details interface{}) error {
	payload := ""
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			log.Errorf("[Audit] failed to encode details for %s on %s/%s: %v", action, targetType, targetID, err)
		} else {
			payload = string(data)
		}
	}
	return models.AppendAuditLog(s.db, actor, action, targetType, targetID, payload)
}
