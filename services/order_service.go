package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/qrtable/database"
	"github.com/yeremiapane/qrtable/kds"
	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/utils"
	"gorm.io/gorm"
)

type OrderConfig struct {
	// EnforceTransitions rejects status changes outside pending->preparing->ready->completed
	// (cancelled from any non-terminal state).
	EnforceTransitions bool
}

type OrderLineInput struct {
	MenuID    string  `json:"menu_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Notes     string  `json:"notes"`
}

type CreateOrderInput struct {
	// Restaurant is either the restaurant id or its public username.
	Restaurant   string           `json:"restaurant_id"`
	TableNumber  int              `json:"table_number"`
	CustomerName string           `json:"customer_name"`
	Lines        []OrderLineInput `json:"items"`
	Notes        string           `json:"notes"`
	OrderType    string           `json:"order_type"`
	TotalAmount  *float64         `json:"total_amount"`
}

// OrderService accepts customer orders, resolving every line to a catalog entry, and announces
// them to the staff dashboards.
type OrderService struct {
	db           *gorm.DB
	events       EventPublisher
	cfg          OrderConfig
	catalogLocks *keyedMutex
	now          func() time.Time
}

func NewOrderService(db *gorm.DB, events EventPublisher, cfg OrderConfig) *OrderService {
	if events == nil {
		events = noopPublisher{}
	}
	return &OrderService{
		db:           db,
		events:       events,
		cfg:          cfg,
		catalogLocks: newKeyedMutex(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type lineRef struct {
	menuID string
	name   string
	price  float64
	kind   string
}

// Create validates and stores an order, then publishes new_order. Lines whose menu item cannot
// be found get a catalog entry created under the fallback category, so an order is never refused
// for referencing an item the catalog does not know.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if err := validateOrderInput(in); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, fmt.Errorf("%w: database not connected", utils.ErrUpstreamUnavailable)
	}
	db := s.db.WithContext(ctx)

	restaurant, err := database.FindRestaurant(db, in.Restaurant)
	if err != nil {
		return nil, err
	}

	orderType := in.OrderType
	if orderType == "" {
		orderType = models.OrderTypeDineIn
	}
	order := &models.Order{
		RestaurantID: restaurant.ID,
		TableNumber:  in.TableNumber,
		CustomerName: in.CustomerName,
		Status:       models.OrderStatusPending,
		Notes:        in.Notes,
		OrderType:    orderType,
	}

	created, err := s.persist(db, order, in.Lines, in.TotalAmount)
	if err != nil {
		return nil, database.Classify(err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"order":           order.ID,
		"restaurant":      restaurant.ID,
		"table":           order.TableNumber,
		"lines":           len(order.OrderItems),
		"catalog_created": created,
		"total_amount":    order.TotalAmount,
	}).Info("order accepted")

	s.events.PublishToRestaurant(restaurant.ID, kds.EventNewOrder, map[string]interface{}{
		"order_id":      order.ID,
		"table_number":  order.TableNumber,
		"customer_name": order.CustomerName,
		"order_type":    order.OrderType,
		"lines":         order.OrderItems,
		"total_amount":  order.TotalAmount,
		"timestamp":     s.now(),
	})
	return order, nil
}

// persist resolves every line and stores the order in one transaction. Name lookups and
// fallback creation must not interleave for one restaurant, or two orders naming the same
// unknown item would each create it, so the restaurant's catalog lock is held until commit.
func (s *OrderService) persist(db *gorm.DB, order *models.Order, lines []OrderLineInput, callerTotal *float64) (int, error) {
	unlock := s.catalogLocks.Lock(order.RestaurantID)
	defer unlock()

	created := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		var total float64
		items := make([]models.OrderItem, 0, len(lines))
		for i, line := range lines {
			ref, err := s.resolveLine(tx, order.RestaurantID, line)
			if err != nil {
				return fmt.Errorf("item %d: %w", i+1, err)
			}
			if ref.kind == models.CreatedFallback {
				created++
			}
			lineTotal := roundCents(float64(line.Quantity) * ref.price)
			total += lineTotal
			items = append(items, models.OrderItem{
				MenuID:            ref.menuID,
				Name:              ref.name,
				Quantity:          line.Quantity,
				UnitPrice:         ref.price,
				TotalPrice:        lineTotal,
				Notes:             line.Notes,
				CatalogResolution: ref.kind,
			})
		}

		order.TotalAmount = roundCents(total)
		if callerTotal != nil {
			order.TotalAmount = *callerTotal
		}
		order.OrderItems = items
		return tx.Create(order).Error
	})
	return created, err
}

// resolveLine finds the catalog entry for one order line: by id, then by exact name, and
// finally by creating it.
func (s *OrderService) resolveLine(tx *gorm.DB, restaurantID string, line OrderLineInput) (lineRef, error) {
	var menu models.Menu

	if models.LooksLikeID(line.MenuID) {
		err := tx.Where("id = ? AND restaurant_id = ?", line.MenuID, restaurantID).First(&menu).Error
		switch {
		case err == nil:
			return refFor(menu, line, models.ResolvedByID), nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return lineRef{}, err
		}
	}

	name := strings.TrimSpace(line.Name)
	if name == "" {
		return lineRef{}, fmt.Errorf("%w: menu item %q", utils.ErrNotFound, line.MenuID)
	}

	err := tx.Where("restaurant_id = ? AND name = ?", restaurantID, name).
		Order("created_at ASC").
		First(&menu).Error
	switch {
	case err == nil:
		return refFor(menu, line, models.ResolvedByName), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return lineRef{}, err
	}

	var category models.MenuCategory
	err = tx.Where(models.MenuCategory{RestaurantID: restaurantID, Name: models.FallbackCategoryName}).
		FirstOrCreate(&category).Error
	if err != nil {
		return lineRef{}, err
	}

	menu = models.Menu{
		RestaurantID: restaurantID,
		CategoryID:   category.ID,
		Name:         name,
		Price:        line.UnitPrice,
		Description:  "Added automatically from a customer order",
		IsAvailable:  true,
	}
	if err := tx.Create(&menu).Error; err != nil {
		return lineRef{}, err
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"restaurant": restaurantID,
		"menu":       menu.ID,
		"name":       name,
	}).Warn("catalog entry created from order line")
	return refFor(menu, line, models.CreatedFallback), nil
}

// refFor prefers the price the customer saw; a line without one takes the catalog price.
func refFor(menu models.Menu, line OrderLineInput, kind string) lineRef {
	price := line.UnitPrice
	if price == 0 {
		price = menu.Price
	}
	return lineRef{menuID: menu.ID, name: menu.Name, price: price, kind: kind}
}

// UpdateStatus moves an order to one of the known statuses and tells the dashboards. A non-empty
// restaurantID limits the change to that restaurant's orders. The write only lands if the status
// is still the one that was read, so two staff members racing on one order cannot both win.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, status, restaurantID string) (*models.Order, error) {
	if !models.ValidOrderStatus(status) {
		return nil, fmt.Errorf("%w: status must be one of %s", utils.ErrValidation, strings.Join(models.OrderStatuses, ", "))
	}
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if restaurantID != "" && order.RestaurantID != restaurantID {
		return nil, fmt.Errorf("%w to change orders of restaurant %s", utils.ErrNoPermission, order.RestaurantID)
	}

	previous := order.Status
	if previous == status {
		return order, nil
	}
	if s.cfg.EnforceTransitions && !ValidOrderTransition(previous, status) {
		return nil, fmt.Errorf("%w: cannot move order from %s to %s", utils.ErrValidation, previous, status)
	}

	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, previous).
		Update("status", status)
	if res.Error != nil {
		return nil, database.Classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: order %s is no longer %s", utils.ErrConflict, order.ID, previous)
	}
	order.Status = status

	s.events.PublishToRestaurant(order.RestaurantID, kds.EventOrderUpdate, map[string]interface{}{
		"order_id":        order.ID,
		"table_number":    order.TableNumber,
		"status":          status,
		"previous_status": previous,
	})
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, orderID string) (*models.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: order id is required", utils.ErrValidation)
	}
	if s.db == nil {
		return nil, fmt.Errorf("%w: database not connected", utils.ErrUpstreamUnavailable)
	}
	var order models.Order
	err := s.db.WithContext(ctx).Preload("OrderItems").Where("id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %s", utils.ErrNotFound, orderID)
		}
		return nil, database.Classify(err)
	}
	return &order, nil
}

// BulkDeleteByRestaurant removes every order of a restaurant, lines first. Used for tenant resets.
func (s *OrderService) BulkDeleteByRestaurant(ctx context.Context, restaurantID string) (lines int64, orders int64, err error) {
	if strings.TrimSpace(restaurantID) == "" {
		return 0, 0, fmt.Errorf("%w: restaurant_id is required", utils.ErrValidation)
	}
	if s.db == nil {
		return 0, 0, fmt.Errorf("%w: database not connected", utils.ErrUpstreamUnavailable)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orderIDs := tx.Model(&models.Order{}).Select("id").Where("restaurant_id = ?", restaurantID)
		res := tx.Where("order_id IN (?)", orderIDs).Delete(&models.OrderItem{})
		if res.Error != nil {
			return res.Error
		}
		lines = res.RowsAffected

		res = tx.Where("restaurant_id = ?", restaurantID).Delete(&models.Order{})
		if res.Error != nil {
			return res.Error
		}
		orders = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, database.Classify(err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"restaurant": restaurantID,
		"lines":      lines,
		"orders":     orders,
	}).Info("orders reset")
	s.events.PublishToRestaurant(restaurantID, kds.EventOrdersReset, map[string]interface{}{
		"deleted_orders": orders,
		"deleted_lines":  lines,
	})
	return lines, orders, nil
}

func validateOrderInput(in CreateOrderInput) error {
	if strings.TrimSpace(in.Restaurant) == "" {
		return fmt.Errorf("%w: restaurant_id is required", utils.ErrValidation)
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("%w: at least one item is required", utils.ErrValidation)
	}
	if in.TableNumber < 0 {
		return fmt.Errorf("%w: table_number cannot be negative", utils.ErrValidation)
	}
	if in.TotalAmount != nil && *in.TotalAmount < 0 {
		return fmt.Errorf("%w: total_amount cannot be negative", utils.ErrValidation)
	}
	for i, line := range in.Lines {
		switch {
		case line.Quantity <= 0:
			return fmt.Errorf("%w: item %d quantity must be positive", utils.ErrValidation, i+1)
		case line.UnitPrice < 0:
			return fmt.Errorf("%w: item %d unit_price cannot be negative", utils.ErrValidation, i+1)
		case strings.TrimSpace(line.MenuID) == "" && strings.TrimSpace(line.Name) == "":
			return fmt.Errorf("%w: item %d needs a menu_id or a name", utils.ErrValidation, i+1)
		}
	}
	return nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
