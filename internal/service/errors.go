package service

import (
	"errors"

	"github.com/sakif/proservice/internal/apperror"
)

// storageErr classifies a repository failure. Errors that already carry an
// apperror kind (e.g. NotFound) pass through unchanged.
func storageErr(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Storage(op, err)
}
