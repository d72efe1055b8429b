// Package testutil 汇总各包测试共用的小工具：SQLite 测试库、JWT 签发、商品种子数据。
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"storefront/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB 打开一个独立的内存库并建表。
// 单连接：内存库随连接存活，同时把并发测试串行到事务粒度。
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, model.Migrate(db))
	return db
}

// NewFileDB 打开临时目录下的文件库，连接参数与线上一致，不限制连接数。
// 用来跑真正会争抢写锁的并发测试。
func NewFileDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := model.Open(filepath.Join(t.TempDir(), "storefront.db"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, model.Migrate(db))
	return db
}

// SeedProduct 写入一个在售商品。
func SeedProduct(t testing.TB, db *gorm.DB, name, price string, sizes, colors []string) model.Product {
	t.Helper()
	p := model.Product{
		Name:   name,
		Price:  decimal.RequireFromString(price),
		Sizes:  sizes,
		Colors: colors,
		Active: true,
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

// Token 签发测试用 bearer token，claims 与 middleware 的约定一致（sub + role）。
func Token(t testing.TB, secret, userID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

// Address 一份合法的收货地址。
func Address() model.ShippingAddress {
	return model.ShippingAddress{
		FullName: "Asha Rao",
		Email:    "asha@example.com",
		Phone:    "9800000000",
		Address:  "12 MG Road",
		City:     "Bengaluru",
		State:    "KA",
		ZipCode:  "560001",
		Country:  "India",
	}
}
