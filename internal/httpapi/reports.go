package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fernandonovaluz/escola-backend/internal/attendance"
	"github.com/fernandonovaluz/escola-backend/internal/lessonplan"
	"github.com/fernandonovaluz/escola-backend/internal/realtime"
)

const historyLimit = 20

func (h *handler) history(c *gin.Context) {
	rows, err := h.Attendance.Today(c.Request.Context(), historyLimit)
	if err != nil {
		fail(c, err, "Erro histórico")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handler) dashboard(c *gin.Context) {
	d, err := h.Attendance.Dashboard(c.Request.Context())
	if err != nil {
		fail(c, err, "Erro dashboard")
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) frequencyReport(c *gin.Context) {
	days := h.opts.ReportDays
	if raw := c.Query("dias"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 366 {
			c.JSON(http.StatusBadRequest, gin.H{"erro": "Parâmetro dias inválido."})
			return
		}
		days = n
	}
	classID, ok := optionalID(c, "turma_id")
	if !ok {
		return
	}

	rows, err := h.Attendance.FrequencyReport(c.Request.Context(), attendance.ReportFilter{Days: days, ClassID: classID})
	if err != nil {
		fail(c, err, "Erro ao gerar dados do relatório")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handler) createPlan(c *gin.Context) {
	var e lessonplan.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"erro": "Dados do planejamento inválidos."})
		return
	}
	saved, err := h.Plans.Create(c.Request.Context(), e)
	if err != nil {
		fail(c, err, "Erro ao salvar planejamento")
		return
	}
	h.Hub.Broadcast(realtime.Event{
		Name: realtime.EventPlanSaved,
		Data: gin.H{"mensagem": "Planejamento salvo!", "turma_id": saved.ClassID, "data_agenda": saved.Date},
	})
	c.JSON(http.StatusOK, gin.H{"mensagem": "Planejamento e Agenda salvos com sucesso!", "agenda": saved})
}

func (h *handler) listPlans(c *gin.Context) {
	rows, err := h.Plans.Recent(c.Request.Context(), 50)
	if err != nil {
		fail(c, err, "Erro interno")
		return
	}
	c.JSON(http.StatusOK, rows)
}
