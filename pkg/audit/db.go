package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mcclellann/vsla/pkg/logging"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ActorID   string    `gorm:"size:36;index;not null" json:"actor_id"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	Action    string    `gorm:"size:64;index;not null" json:"action"`
	Details   string    `gorm:"type:text" json:"details"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
}

// DBSink appends entries to the audit_logs table from a background goroutine.
// Record drops the entry with a warning when the buffer is full, and must not
// be called after Close.
type DBSink struct {
	db     *gorm.DB
	logger *logrus.Logger
	queue  chan Entry
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDBSink opens dsn with gorm's sqlite dialect and migrates the audit table.
func NewDBSink(dsn string, buffer int, log *logrus.Logger) (*DBSink, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open audit database: %w", err)
	}
	if err := db.AutoMigrate(&AuditLog{}); err != nil {
		return nil, fmt.Errorf("could not migrate audit table: %w", err)
	}
	if buffer <= 0 {
		buffer = 256
	}
	s := &DBSink{db: db, logger: log, queue: make(chan Entry, buffer)}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *DBSink) Record(e Entry) {
	select {
	case s.queue <- e:
	default:
		s.logger.WithFields(logrus.Fields{"action": e.Action, "actor_id": e.ActorID.String()}).Warn("audit buffer full, dropping entry")
	}
}

func (s *DBSink) run() {
	defer s.wg.Done()
	for e := range s.queue {
		details, err := json.Marshal(e.Details)
		if err != nil {
			details = []byte("{}")
		}
		row := AuditLog{
			ActorID:   e.ActorID.String(),
			Role:      string(e.Role),
			Action:    e.Action,
			Details:   string(details),
			Timestamp: e.Timestamp,
		}
		if err := s.db.Create(&row).Error; err != nil {
			logging.LogError(s.logger, "audit", "run", "insert audit log", e.Action, err)
		}
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (s *DBSink) Close() error {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Recent returns the newest entries first.
func (s *DBSink) Recent(limit int) ([]AuditLog, error) {
	var rows []AuditLog
	if err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
