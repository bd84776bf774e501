package hrest

import (
	"errors"
	"fmt"
	"net/http"

	"ledger-service/internal/customfield"
	"ledger-service/pkg/response"
	"ledger-service/pkg/xerrors"

	log "github.com/sirupsen/logrus"
)

// ===============================
// ERROR HANDLING
// ===============================

// statusFor maps a usecase error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case xerrors.IsNotFound(err):
		return http.StatusNotFound
	case xerrors.IsValidation(err),
		errors.Is(err, customfield.ErrUnknownField),
		errors.Is(err, customfield.ErrRequired),
		errors.Is(err, customfield.ErrTypeMismatch),
		errors.Is(err, customfield.ErrInvalidChoice):
		return http.StatusBadRequest
	case xerrors.IsDomain(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func handleUsecaseError(w http.ResponseWriter, err error) {
	logger := log.WithFields(log.Fields{
		"function":   "handleUsecaseError",
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})

	status := statusFor(err)
	switch status {
	case http.StatusNotFound:
		logger.WithField("http_status", status).Warn("resource not found")
		response.Error(w, status, err.Error())
	case http.StatusBadRequest:
		logger.WithField("http_status", status).Info("invalid request")
		response.Error(w, status, err.Error())
	case http.StatusUnprocessableEntity:
		logger.WithField("http_status", status).Info("business rule rejected request")
		response.Error(w, status, err.Error())
	default:
		logger.WithField("http_status", status).Error("unhandled usecase error")
		response.Error(w, status, xerrors.ErrInternalServer.Error())
	}
}
