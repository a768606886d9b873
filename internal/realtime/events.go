package realtime

import (
	"encoding/json"
	"errors"
	"strconv"
)

// Event names on the wire. They match what the kiosk and classroom clients
// already emit and listen for.
const (
	EventJoinClass        = "entrar_sala"
	EventJoinFrontDesk    = "entrar_portaria"
	EventReleaseDecision  = "resposta_liberacao"
	EventClassUpdate      = "atualizacao_sala"
	EventReleaseRequest   = "solicitacao_saida"
	EventReleaseOutcome   = "status_liberacao"
	EventReleaseCancelled = "solicitacao_cancelada"
	EventPlanSaved        = "nova_agenda"
	EventJoined           = "sala_conectada"
	EventError            = "erro"
)

// FrontDeskRoom is joined by kiosk operators.
const FrontDeskRoom = "canal_portaria"

// ClassRoom names the room of one class.
func ClassRoom(classID int64) string {
	return "turma_" + strconv.FormatInt(classID, 10)
}

// Event is one outbound message.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// PublicError is an error whose message may be shown to a client.
type PublicError interface {
	error
	Public() string
}

const internalErrorMessage = "Erro interno no servidor."

func publicMessage(err error) string {
	var pe PublicError
	if errors.As(err, &pe) {
		return pe.Public()
	}
	return internalErrorMessage
}
