package router

import (
	"net/http"
	"strings"

	"storefront/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// listProducts 在售商品列表。
func listProducts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Product
		if err := db.WithContext(c.Request.Context()).Where("active = ?", true).Order("id ASC").Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createProduct 管理员上架商品。价格按字符串或数字传入，统一解析成 decimal。
func createProduct(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name   string          `json:"name" binding:"required"`
			Price  decimal.Decimal `json:"price"`
			Sizes  []string        `json:"sizes"`
			Colors []string        `json:"colors"`
			Active *bool           `json:"active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			badRequest(c, "name 必填")
			return
		}
		if !req.Price.IsPositive() {
			badRequest(c, "price 必须大于 0")
			return
		}
		if !req.Price.Equal(req.Price.Round(2)) {
			badRequest(c, "price 最多两位小数")
			return
		}
		p := &model.Product{
			Name:   strings.TrimSpace(req.Name),
			Price:  req.Price,
			Sizes:  req.Sizes,
			Colors: req.Colors,
			Active: req.Active == nil || *req.Active,
		}
		if err := db.WithContext(c.Request.Context()).Create(p).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": p})
	}
}
