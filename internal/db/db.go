package db

import (
	"fmt"

	"toasty/internal/auth"
	"toasty/internal/room"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&room.Room{},
		&auth.User{},
	); err != nil {
		return err
	}

	stmts := []string{
		// Boot enumeration and the all-rooms listing scan active rooms.
		`create index if not exists idx_rooms_active on rooms(room_id) where active;`,
		// Owner lookups from the web layer.
		`create index if not exists idx_rooms_added_by on rooms(added_by);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
