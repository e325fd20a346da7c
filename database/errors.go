package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/yeremiapane/qrtable/utils"
	"gorm.io/gorm"
)

// Classify translates gorm and driver errors into the service error taxonomy. Errors that are
// already classified pass through untouched.
func Classify(err error) error {
	if err == nil || classified(err) {
		return err
	}

	var netErr net.Error
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", utils.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "duplicate entry"),
		strings.Contains(msg, "duplicate key"):
		return fmt.Errorf("%w: %v", utils.ErrConflict, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated),
		strings.Contains(msg, "foreign key constraint"):
		// the row points at a restaurant, order or category that does not exist
		return fmt.Errorf("%w: %v", utils.ErrNotFound, err)
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.As(err, &netErr),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "database is closed"):
		return fmt.Errorf("%w: %v", utils.ErrUpstreamUnavailable, err)
	}
	return err
}

func classified(err error) bool {
	for _, target := range []error{
		utils.ErrValidation,
		utils.ErrNotFound,
		utils.ErrConflict,
		utils.ErrDeactivated,
		utils.ErrUpstreamUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
