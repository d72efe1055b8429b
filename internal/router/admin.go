package router

import (
	"net/http"
	"strconv"

	"storefront/internal/apperr"
	"storefront/internal/model"
	"storefront/internal/order"

	"github.com/gin-gonic/gin"
)

// adminListOrders 管理后台订单列表，支持 ?status= &page= &page_size=。
func adminListOrders(orders *order.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f order.ListFilter
		if s := c.Query("status"); s != "" {
			st, ok := model.ParseStatus(s)
			if !ok {
				badRequest(c, "status 无效")
				return
			}
			f.Status = st
		}
		if s := c.Query("page"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				badRequest(c, "page 无效")
				return
			}
			f.Page = n
		}
		if s := c.Query("page_size"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				badRequest(c, "page_size 无效")
				return
			}
			f.PageSize = n
		}

		list, total, err := orders.ListAll(c.Request.Context(), f)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"list":  list,
				"total": total,
				"page":  max(f.Page, 1),
			},
		})
	}
}

// adminOrderEvents 订单状态流水。
func adminOrderEvents(orders *order.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := orders.Get(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		list, err := orders.Events(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// adminUpdateStatus 管理员改状态（发货、签收、取消），不经过支付校验。
// 非法迁移（包括往回改）返回 409 并带上具体原因。
func adminUpdateStatus(orders *order.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Status         string `json:"status" binding:"required"`
			TrackingNumber string `json:"tracking_number"`
			TrackingURL    string `json:"tracking_url"`
			Note           string `json:"note"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		next, ok := model.ParseStatus(req.Status)
		if !ok {
			badRequest(c, "status 无效")
			return
		}

		o, applied, err := orders.TransitionStatus(c.Request.Context(), c.Param("id"), next, order.Meta{
			Source:         model.SourceAdmin,
			TrackingNumber: req.TrackingNumber,
			TrackingURL:    req.TrackingURL,
			Note:           req.Note,
			Strict:         true,
		})
		if err != nil {
			if apperr.HTTPStatus(err) == http.StatusConflict {
				c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "msg": err.Error()})
				return
			}
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o, "applied": applied})
	}
}
