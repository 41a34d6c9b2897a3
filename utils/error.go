package utils

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrorRecordNotFound  = errors.New("record not found")
	ErrorLockNotObtained = errors.New("could not obtain lock")
)

// NotFoundOr maps gorm's not-found error onto ErrorRecordNotFound and passes everything else through.
func NotFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorRecordNotFound
	}
	return err
}
