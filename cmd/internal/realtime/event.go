package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

const (
	// TypeReady is sent once after the connection joins the wall.
	TypeReady = "wall.ready"
	// TypeSecretNew carries a freshly submitted secret.
	TypeSecretNew = "secret.new"
)

// Envelope is the wire wrapper for every server frame.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SecretPayload is the body of TypeSecretNew. It never names the author.
type SecretPayload struct {
	Secret string `json:"secret"`
}

type ReadyPayload struct {
	Watchers int `json:"watchers"`
}

func newEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC(), Payload: raw}, nil
}

// Validate checks the envelope shape. Clients use it on receipt.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeReady, TypeSecretNew:
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing field: id")
	}
	return nil
}
