package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHub_BroadcastAndLeave(t *testing.T) {
	h := NewHub(quietLog())
	a := NewClient("a", "acct-a", 4)
	b := NewClient("b", "acct-b", 4)
	h.Join(a)
	h.Join(b)
	assert.Equal(t, 2, h.Count())

	h.PublishSecret("first")
	for _, c := range []*Client{a, b} {
		env := <-c.Send
		require.NoError(t, env.Validate())
		assert.Equal(t, TypeSecretNew, env.Type)

		var p SecretPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, "first", p.Secret)
	}

	h.Leave("a")
	assert.Equal(t, 1, h.Count())
	select {
	case <-a.Done():
	default:
		t.Fatal("leave closes the client")
	}

	h.PublishSecret("second")
	assert.Len(t, a.Send, 0)
	assert.Len(t, b.Send, 1)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	h := NewHub(quietLog())
	slow := NewClient("slow", "acct", 1)
	h.Join(slow)

	env, err := newEnvelope(TypeSecretNew, "id-1", h.now(), SecretPayload{Secret: "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, h.Broadcast(env))
	assert.Equal(t, 0, h.Broadcast(env), "full queue drops the event")
}

func TestHub_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	h := NewHub(quietLog())

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := NewClient(string(rune('a'+i)), "acct", 2)
			h.Join(c)
			h.Leave(c.ID)
		}()
		go func() {
			defer wg.Done()
			h.PublishSecret("s")
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Count())
}

func TestEnvelopeValidate(t *testing.T) {
	assert.Error(t, Envelope{V: "v0", Type: TypeReady, ID: "x"}.Validate())
	assert.Error(t, Envelope{V: Version, ID: "x"}.Validate())
	assert.Error(t, Envelope{V: Version, Type: "message_new", ID: "x"}.Validate())
	assert.Error(t, Envelope{V: Version, Type: TypeReady}.Validate())
	assert.NoError(t, Envelope{V: Version, Type: TypeReady, ID: "x"}.Validate())
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://localhost:5173", "https://Wall.Example.com", " ", "http://localhost"})
	assert.Equal(t, []string{"localhost", "localhost:*", "wall.example.com", "wall.example.com:*"}, got)
}
