package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/qrtable/middlewares"
	"github.com/yeremiapane/qrtable/services"
	"github.com/yeremiapane/qrtable/utils"
)

type OrderController struct {
	Orders *services.OrderService
}

func NewOrderController(orders *services.OrderService) *OrderController {
	return &OrderController{Orders: orders}
}

// CreateOrder -> customer places an order from the table menu
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var body services.CreateOrderInput
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	order, err := oc.Orders.Create(c.Request.Context(), body)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

// GetOrderByID -> detail 1 order with its lines
func (oc *OrderController) GetOrderByID(c *gin.Context) {
	order, err := oc.Orders.Get(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	if err := authorizeRestaurant(c, order.RestaurantID); err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

// UpdateOrderStatus -> kitchen/waiter moves an order along
func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	order, err := oc.Orders.UpdateStatus(c.Request.Context(), c.Param("order_id"), body.Status,
		c.GetString(middlewares.ContextRestaurantID))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order status updated", order)
}

// DeleteRestaurantOrders -> wipe every order of a restaurant (admin reset)
func (oc *OrderController) DeleteRestaurantOrders(c *gin.Context) {
	restaurantID := c.Param("restaurant_id")
	if err := authorizeRestaurant(c, restaurantID); err != nil {
		utils.RespondAppError(c, err)
		return
	}

	lines, orders, err := oc.Orders.BulkDeleteByRestaurant(c.Request.Context(), restaurantID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Orders deleted", gin.H{
		"deleted_orders": orders,
		"deleted_lines":  lines,
	})
}
