package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fernandonovaluz/escola-backend/internal/badge"
	"github.com/fernandonovaluz/escola-backend/internal/pickup"
)

type scanRequest struct {
	Code string `json:"qr_code"`
}

func (h *handler) scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"erro": "QR Code não fornecido"})
		return
	}

	res, err := h.Pickup.Scan(c.Request.Context(), req.Code)
	if err != nil {
		fail(c, err, "Erro interno no servidor da portaria.")
		return
	}

	switch res.Kind {
	case pickup.ScanEntry:
		c.JSON(http.StatusOK, gin.H{
			"status":   "sucesso",
			"tipo":     res.Kind,
			"mensagem": fmt.Sprintf("%s entrou na escola.", res.StudentName),
			"aluno":    res.StudentName,
			"aluno_id": res.StudentID,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":      "sucesso",
			"tipo":        res.Kind,
			"mensagem":    fmt.Sprintf("%s chegou. Aguardando professora liberar %s...", res.GuardianName, res.StudentName),
			"aluno":       res.StudentName,
			"aluno_id":    res.StudentID,
			"responsavel": res.GuardianName,
		})
	}
}

// decide is the HTTP form of the release-decision event.
func (h *handler) decide(c *gin.Context) {
	var d pickup.Decision
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"erro": pickup.ErrInvalidDecision.Public()})
		return
	}
	out, err := h.Pickup.Decide(c.Request.Context(), d)
	if err != nil {
		fail(c, err, "Erro ao processar liberação.")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) pending(c *gin.Context) {
	list, err := h.Pickup.Pending(c.Request.Context())
	if err != nil {
		fail(c, err, "Erro ao listar solicitações pendentes.")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) cancelPending(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("aluno_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"erro": "Aluno inválido."})
		return
	}
	entry, err := h.Pickup.Cancel(c.Request.Context(), id)
	if err != nil {
		fail(c, err, "Erro ao cancelar solicitação.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"mensagem": "Solicitação cancelada.", "solicitacao": entry})
}

func (h *handler) badgeQR(c *gin.Context) {
	size, _ := strconv.Atoi(c.Query("tamanho"))
	img, err := badge.PNG(c.Param("code"), size)
	if err != nil {
		fail(c, err, "Erro ao gerar QR Code.")
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", img)
}
