package model

import (
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sqliteParams 文件库的连接参数：
// BEGIN IMMEDIATE 让事务一开始就拿写锁，并发写在 busy_timeout 内排队，而不是直接报 database is locked。
const sqliteParams = "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"

// Open 打开 SQLite 文件库。服务进程和需要真实并发的测试共用。
func Open(path string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	return gorm.Open(sqlite.Open(sqliteDSN(path)), cfg)
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + sqliteParams
}

// Migrate 自动建表，服务启动与测试共用。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Product{}, &Order{}, &OrderItem{}, &OrderEvent{})
}
