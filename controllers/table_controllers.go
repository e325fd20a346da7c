package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/qrtable/middlewares"
	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/services"
	"github.com/yeremiapane/qrtable/utils"
)

// TableController exposes the table-session lifecycle: staff open and close tables, customers
// verify the code they scanned.
type TableController struct {
	Sessions *services.SessionService
}

func NewTableController(sessions *services.SessionService) *TableController {
	return &TableController{Sessions: sessions}
}

// GenerateSession -> open (or reuse) the session for a table
func (tc *TableController) GenerateSession(c *gin.Context) {
	var req struct {
		RestaurantID  string `json:"restaurant_id" binding:"required"`
		TableNumber   int    `json:"table_number" binding:"required"`
		DurationHours int    `json:"duration_hours"`
		CreatedBy     string `json:"created_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if err := authorizeRestaurant(c, req.RestaurantID); err != nil {
		utils.RespondAppError(c, err)
		return
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = creatorFor(c.GetString(middlewares.ContextRole))
	}

	session, err := tc.Sessions.Generate(c.Request.Context(), req.RestaurantID, req.TableNumber, req.DurationHours, createdBy)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	if session.Reused {
		utils.RespondJSON(c, http.StatusOK, "Active table session reused", session)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Table session created", session)
}

// VerifySession -> customer app checks the scanned code
func (tc *TableController) VerifySession(c *gin.Context) {
	view, err := tc.Sessions.Verify(c.Request.Context(), c.Param("token"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table session valid", view)
}

// RefreshSession -> extend a session; the body is optional
func (tc *TableController) RefreshSession(c *gin.Context) {
	var req struct {
		DurationHours int `json:"duration_hours"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, http.StatusBadRequest, err)
			return
		}
	}

	expiresAt, err := tc.Sessions.Refresh(c.Request.Context(), c.Param("token"), req.DurationHours)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table session refreshed", gin.H{"expires_at": expiresAt})
}

func (tc *TableController) DeactivateSession(c *gin.Context) {
	if err := tc.Sessions.DeactivateByToken(c.Request.Context(), c.Param("token")); err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table session deactivated", nil)
}

// ClearTable -> close whatever session the table currently has
func (tc *TableController) ClearTable(c *gin.Context) {
	restaurantID := c.Param("restaurant_id")
	tableNumber, err := strconv.Atoi(c.Param("table_number"))
	if err != nil || tableNumber <= 0 {
		utils.RespondAppError(c, fmt.Errorf("%w: table_number must be a positive integer", utils.ErrValidation))
		return
	}
	if err := authorizeRestaurant(c, restaurantID); err != nil {
		utils.RespondAppError(c, err)
		return
	}

	if err := tc.Sessions.DeactivateByTable(c.Request.Context(), restaurantID, tableNumber); err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table cleared", gin.H{
		"restaurant_id": restaurantID,
		"table_number":  tableNumber,
	})
}

// SweepSessions -> admin-triggered expiry sweep
func (tc *TableController) SweepSessions(c *gin.Context) {
	count, err := tc.Sessions.SweepExpired(c.Request.Context())
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Expired table sessions deactivated", gin.H{"deactivated": count})
}

// authorizeRestaurant refuses staff tokens bound to a different restaurant. Tokens without a
// restaurant claim belong to the platform console and may act on any restaurant.
func authorizeRestaurant(c *gin.Context, restaurantID string) error {
	claimed := c.GetString(middlewares.ContextRestaurantID)
	if claimed == "" || claimed == restaurantID {
		return nil
	}
	return fmt.Errorf("%w to act on restaurant %s", utils.ErrNoPermission, restaurantID)
}

func creatorFor(role string) string {
	switch role {
	case middlewares.RoleAdmin:
		return models.CreatedByAdmin
	case "":
		return models.CreatedBySystem
	default:
		return models.CreatedByWaiter
	}
}
