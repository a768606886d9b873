package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fernandonovaluz/escola-backend/internal/auth"
	"github.com/fernandonovaluz/escola-backend/internal/badge"
	"github.com/fernandonovaluz/escola-backend/internal/directory"
)

func (h *handler) roster(c *gin.Context) {
	classID, ok := optionalID(c, "turma_id")
	if !ok {
		return
	}
	rows, err := h.Directory.Roster(c.Request.Context(), classID)
	if err != nil {
		fail(c, err, "Erro ao buscar alunos")
		return
	}
	c.JSON(http.StatusOK, rows)
}

type enrollRequest struct {
	StudentName   string `json:"nome_aluno"`
	ClassID       *int64 `json:"turma_id"`
	GuardianName  string `json:"nome_pai"`
	GuardianPhone string `json:"telefone_pai"`
}

func (h *handler) enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"erro": "Dados de cadastro inválidos."})
		return
	}
	out, err := h.Directory.Enroll(c.Request.Context(), directory.NewEnrollment{
		StudentName:   req.StudentName,
		ClassID:       req.ClassID,
		GuardianName:  req.GuardianName,
		GuardianPhone: req.GuardianPhone,
		StudentCode:   badge.NewStudentCode(),
		GuardianCode:  badge.NewGuardianCode(),
	})
	if err != nil {
		fail(c, err, "Erro ao cadastrar")
		return
	}
	slog.Info("student enrolled", "student_id", out.StudentID, "guardian_id", out.GuardianID)
	c.JSON(http.StatusOK, gin.H{
		"mensagem":       "Sucesso",
		"aluno_id":       out.StudentID,
		"responsavel_id": out.GuardianID,
		"qr_aluno":       out.StudentCode,
		"qr_pai":         out.GuardianCode,
	})
}

type teacherRequest struct {
	Name     string `json:"nome"`
	Email    string `json:"email"`
	Password string `json:"senha"`
}

func (h *handler) createTeacher(c *gin.Context) {
	var req teacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"erro": "Dados do professor inválidos."})
		return
	}
	t, err := h.Directory.CreateTeacher(c.Request.Context(), directory.Teacher{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		fail(c, err, "Erro ao cadastrar professor")
		return
	}
	c.JSON(http.StatusOK, gin.H{"mensagem": "Professor(a) cadastrado com sucesso!", "professor": t})
}

func (h *handler) listTeachers(c *gin.Context) {
	rows, err := h.Directory.ListTeachers(c.Request.Context())
	if err != nil {
		fail(c, err, "Erro ao buscar professores")
		return
	}
	c.JSON(http.StatusOK, rows)
}

type classRequest struct {
	Name      string `json:"nome"`
	TeacherID *int64 `json:"professora_id"`
}

func (h *handler) createClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"erro": "Dados da turma inválidos."})
		return
	}
	class, err := h.Directory.CreateClass(c.Request.Context(), directory.Class{Name: req.Name, TeacherID: req.TeacherID})
	if err != nil {
		fail(c, err, "Erro ao criar turma")
		return
	}
	c.JSON(http.StatusOK, gin.H{"mensagem": "Turma criada com sucesso!", "turma": class})
}

func (h *handler) listClasses(c *gin.Context) {
	rows, err := h.Directory.ListClasses(c.Request.Context())
	if err != nil {
		fail(c, err, "Erro ao buscar turmas")
		return
	}
	c.JSON(http.StatusOK, rows)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"sucesso": false, "mensagem": "Preencha e-mail e senha."})
		return
	}

	user, err := h.Directory.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		status, msg := classify(err)
		if status == http.StatusInternalServerError {
			slog.Error("login failed", "error", err)
			msg = "Erro interno no servidor."
		}
		c.JSON(status, gin.H{"sucesso": false, "mensagem": msg})
		return
	}

	tokens, err := auth.Issue(auth.Staff{ID: user.ID, Name: user.Name, Role: user.Role},
		h.opts.JWTIssuer, h.opts.JWTSigningKey, h.opts.AccessTTL, h.opts.RefreshTTL)
	if err != nil {
		slog.Error("token issue failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"sucesso": false, "mensagem": "Erro interno no servidor."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sucesso":       true,
		"usuario":       user,
		"token":         tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// optionalID reads an optional positive integer query parameter. It writes
// a 400 and returns false when the value is malformed.
func optionalID(c *gin.Context, key string) (*int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"erro": "Parâmetro " + key + " inválido."})
		return nil, false
	}
	return &id, true
}
