package pickup

import "fmt"

// userError carries a message safe to show on a kiosk or teacher console.
type userError struct {
	msg    string
	public string
}

func (e *userError) Error() string  { return e.msg }
func (e *userError) Public() string { return e.public }

var (
	ErrNoPendingRelease = &userError{
		msg:    "no pending release for student",
		public: "Nenhuma solicitação de saída pendente para este aluno.",
	}
	ErrUnassignedClass = &userError{
		msg:    "student has no class assigned",
		public: "Aluno sem turma vinculada. Procure a secretaria.",
	}
	ErrInvalidDecision = &userError{
		msg:    "decision requires aluno_id and status",
		public: "Decisão inválida.",
	}
)

// PersistenceError reports that an approved exit could not be stored.
type PersistenceError struct {
	StudentID int64
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("record exit for student %d: %v", e.StudentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Public() string {
	return "Não foi possível registrar a saída. Tente novamente."
}
