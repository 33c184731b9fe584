package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"campusmarket/internal/config"
	"campusmarket/internal/flashsale"
	"campusmarket/internal/metrics"
	"campusmarket/internal/middleware"
)

// FlashSale 路由依赖的秒杀服务能力，由 *flashsale.Service 实现。
type FlashSale interface {
	CreateItem(ctx context.Context, in flashsale.CreateItemInput) (*flashsale.ItemView, error)
	ListActiveAndUpcoming(ctx context.Context) ([]flashsale.ItemView, error)
	GetItemView(ctx context.Context, id uint) (*flashsale.ItemView, error)
	Purchase(ctx context.Context, itemID uint, userID int64) (flashsale.PurchaseResult, error)
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, svc FlashSale, rdb *rd.Client, reg *metrics.Registry, cfg config.AppConfig, log logrus.FieldLogger) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(reg.Handler()))

	api := r.Group("/api/flash-sale")
	api.GET("/items", listItems(svc))
	api.GET("/items/:id", getItem(svc))
	api.POST("/items", middleware.RequireAdmin(cfg.AdminToken), createItem(svc))
	api.POST("/purchase",
		middleware.RequireUser(),
		middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow, log),
		purchase(svc),
	)
}

// statusOf 错误原因 → HTTP 状态码。
func statusOf(reason flashsale.Reason) int {
	switch reason {
	case flashsale.ReasonValidation, flashsale.ReasonNotStarted, flashsale.ReasonEnded:
		return http.StatusBadRequest
	case flashsale.ReasonNotFound:
		return http.StatusNotFound
	case flashsale.ReasonDuplicate, flashsale.ReasonSoldOut:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

var reasonMsg = map[flashsale.Reason]string{
	flashsale.ReasonNotFound:       "秒杀商品不存在",
	flashsale.ReasonNotStarted:     "秒杀尚未开始",
	flashsale.ReasonEnded:          "秒杀已结束",
	flashsale.ReasonDuplicate:      "该商品已抢购过，限购一件",
	flashsale.ReasonSoldOut:        "库存不足，已售罄",
	flashsale.ReasonInfrastructure: "系统繁忙，请稍后重试",
}

func fail(c *gin.Context, err error) {
	reason := flashsale.ReasonOf(err)
	msg, ok := reasonMsg[reason]
	if !ok {
		msg = err.Error()
	}
	status := statusOf(reason)
	c.JSON(status, gin.H{"code": status, "msg": msg, "reason": string(reason)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": msg, "reason": string(flashsale.ReasonValidation)})
}

// listItems 未结束及即将开始的秒杀场次。
func listItems(svc FlashSale) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListActiveAndUpcoming(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

func getItem(svc FlashSale) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil || id == 0 {
			badRequest(c, "商品ID无效")
			return
		}
		v, err := svc.GetItemView(c.Request.Context(), uint(id))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// createItem 创建秒杀场次（管理员）。
func createItem(svc FlashSale) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title         string           `json:"title" binding:"required"`
			Description   string           `json:"description"`
			OriginalPrice *decimal.Decimal `json:"originalPrice" binding:"required"`
			FlashPrice    *decimal.Decimal `json:"flashPrice" binding:"required"`
			TotalStock    int64            `json:"totalStock" binding:"required,min=1"`
			StartTime     string           `json:"startTime" binding:"required"`
			EndTime       string           `json:"endTime" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			badRequest(c, "startTime 格式错误，请用 RFC3339")
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			badRequest(c, "endTime 格式错误，请用 RFC3339")
			return
		}

		v, err := svc.CreateItem(c.Request.Context(), flashsale.CreateItemInput{
			Title:         req.Title,
			Description:   req.Description,
			OriginalPrice: *req.OriginalPrice,
			FlashPrice:    *req.FlashPrice,
			TotalStock:    req.TotalStock,
			StartTime:     start,
			EndTime:       end,
		})
		if err != nil {
			if errors.Is(err, flashsale.ErrValidation) {
				badRequest(c, err.Error())
				return
			}
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// purchase 秒杀下单：用户身份来自网关头，body 只带商品 ID。
func purchase(svc FlashSale) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			FlashSaleItemID uint `json:"flashSaleItemId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		userID, ok := middleware.UserIDFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "缺少用户身份", "reason": "unauthorized"})
			return
		}

		res, err := svc.Purchase(c.Request.Context(), req.FlashSaleItemID, userID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"msg":  "抢购成功",
			"data": gin.H{
				"orderId":   res.OrderID,
				"requestId": res.RequestID,
				"message":   "抢购成功，订单处理中",
			},
		})
	}
}
