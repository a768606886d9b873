package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fernandonovaluz/escola-backend/internal/badge"
	"github.com/fernandonovaluz/escola-backend/internal/directory"
	"github.com/fernandonovaluz/escola-backend/internal/lessonplan"
	"github.com/fernandonovaluz/escola-backend/internal/pickup"
)

// fail maps err to a status and writes {"erro": ...}. Server-side failures,
// including a guardian badge whose student is gone, are logged; the caller
// only sees a fixed message.
func fail(c *gin.Context, err error, fallback string) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		if msg == "" {
			msg = fallback
		}
	}
	c.JSON(status, gin.H{"erro": msg})
}

func classify(err error) (int, string) {
	var perr *pickup.PersistenceError
	switch {
	case errors.Is(err, badge.ErrEmptyCode):
		return http.StatusBadRequest, "QR Code não fornecido"
	case errors.Is(err, badge.ErrNotFound):
		return http.StatusNotFound, "QR Code inválido ou não cadastrado no sistema."
	case errors.Is(err, pickup.ErrUnassignedClass):
		return http.StatusConflict, pickup.ErrUnassignedClass.Public()
	case errors.Is(err, pickup.ErrNoPendingRelease):
		return http.StatusNotFound, pickup.ErrNoPendingRelease.Public()
	case errors.Is(err, pickup.ErrInvalidDecision):
		return http.StatusBadRequest, pickup.ErrInvalidDecision.Public()
	case errors.As(err, &perr):
		return http.StatusInternalServerError, perr.Public()
	case errors.Is(err, directory.ErrMissingField):
		return http.StatusBadRequest, "Preencha todos os campos obrigatórios."
	case errors.Is(err, directory.ErrInvalidCredentials):
		return http.StatusUnauthorized, "E-mail ou senha incorretos!"
	case errors.Is(err, lessonplan.ErrClassRequired):
		return http.StatusBadRequest, "Informe a turma."
	case errors.Is(err, lessonplan.ErrInvalidDate):
		return http.StatusBadRequest, "Data da agenda inválida."
	default:
		return http.StatusInternalServerError, ""
	}
}
