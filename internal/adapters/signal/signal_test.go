package signal

import (
	"errors"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Voice/internal/app"
	"github.com/dkeye/Voice/internal/app/orch"
	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/gin-gonic/gin"
)

type relay struct {
	orch *orch.Orchestrator
	srv  *httptest.Server
	url  string
}

func newRelay(t *testing.T, opts Options) *relay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
	ctrl := NewSignalWSController(o, opts)
	ctx := t.Context()
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctrl.HandleSignal(ctx, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &relay{orch: o, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

// inbox collects everything a Channel receives.
type inbox chan domain.Message

func dial(t *testing.T, r *relay) (*Channel, inbox) {
	t.Helper()
	ch := NewChannel(ClientOptions{})
	in := make(inbox, 64)
	ch.OnMessage(func(m domain.Message) { in <- m })
	if err := ch.Connect(t.Context(), r.url); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(ch.Disconnect)
	return ch, in
}

// next waits for the next message of type typ, skipping others.
func (in inbox) next(t *testing.T, typ domain.MessageType) domain.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-in:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			t.Fatalf("no %s message", typ)
			return domain.Message{}
		}
	}
}

func TestRelay_JoinForwardLeave(t *testing.T) {
	r := newRelay(t, Options{})
	a, ina := dial(t, r)
	b, inb := dial(t, r)

	if err := a.JoinRoom(t.Context(), "room", "alice"); err != nil {
		t.Fatal(err)
	}
	if got := ina.next(t, domain.MsgJoined); got.ParticipantID != "alice" || len(got.Participants) != 0 {
		t.Fatalf("alice joined = %+v", got)
	}
	if err := b.JoinRoom(t.Context(), "room", "bob"); err != nil {
		t.Fatal(err)
	}
	if got := inb.next(t, domain.MsgJoined); !slices.Equal(got.Participants, []domain.ParticipantID{"alice"}) {
		t.Fatalf("bob joined = %+v", got)
	}
	if got := ina.next(t, domain.MsgParticipantJoined); got.ParticipantID != "bob" {
		t.Fatalf("alice saw %+v", got)
	}

	if err := a.Send(domain.NewOffer("v=0"), "bob"); err != nil {
		t.Fatal(err)
	}
	for _, c := range []string{"c1", "c2", "c3"} {
		if err := a.Send(domain.NewICECandidate(domain.Candidate{Candidate: c}), "bob"); err != nil {
			t.Fatal(err)
		}
	}
	if got := inb.next(t, domain.MsgOffer); got.From != "alice" || got.SDP != "v=0" {
		t.Fatalf("bob got %+v", got)
	}
	for _, want := range []string{"c1", "c2", "c3"} {
		if got := inb.next(t, domain.MsgICECandidate); got.From != "alice" || got.Candidate.Candidate != want {
			t.Fatalf("bob got %+v, want candidate %s", got, want)
		}
	}

	b.Disconnect()
	if got := ina.next(t, domain.MsgParticipantLeft); got.ParticipantID != "bob" {
		t.Fatalf("alice saw %+v", got)
	}
}

func TestRelay_Errors(t *testing.T) {
	r := newRelay(t, Options{})
	a, ina := dial(t, r)
	b, inb := dial(t, r)

	if err := a.Send(domain.NewOffer("x"), "bob"); err != nil {
		t.Fatal(err)
	}
	if got := ina.next(t, domain.MsgError); got.Error != "not_joined" {
		t.Fatalf("error = %q", got.Error)
	}

	if err := a.JoinRoom(t.Context(), "room", "alice"); err != nil {
		t.Fatal(err)
	}
	ina.next(t, domain.MsgJoined)
	if err := b.JoinRoom(t.Context(), "room", "alice"); err != nil {
		t.Fatal(err)
	}
	if got := inb.next(t, domain.MsgError); got.Error != "participant_id_taken" {
		t.Fatalf("error = %q", got.Error)
	}

	if err := a.Send(domain.NewOffer("x"), "nobody"); err != nil {
		t.Fatal(err)
	}
	if got := ina.next(t, domain.MsgError); got.Error != "unknown_participant" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestRelay_RateLimit(t *testing.T) {
	r := newRelay(t, Options{RateLimit: 2, RateInterval: time.Hour})
	a, in := dial(t, r)

	for range 3 {
		if err := a.Send(domain.Message{Type: domain.MsgPing}, ""); err != nil {
			t.Fatal(err)
		}
	}
	in.next(t, domain.MsgPong)
	in.next(t, domain.MsgPong)
	if got := in.next(t, domain.MsgError); got.Error != "rate_limited" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestChannel_DropFiresOnce(t *testing.T) {
	r := newRelay(t, Options{})
	a, in := dial(t, r)

	var fired atomic.Int32
	dropped := make(chan error, 2)
	a.OnDisconnect(func(err error) {
		fired.Add(1)
		dropped <- err
	})
	if err := a.JoinRoom(t.Context(), "room", "alice"); err != nil {
		t.Fatal(err)
	}
	in.next(t, domain.MsgJoined)

	r.orch.EvictRoom("room")

	select {
	case err := <-dropped:
		var ce *core.ConnectionError
		if !errors.As(err, &ce) {
			t.Fatalf("drop error %T: %v", err, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
	a.Disconnect()
	if n := fired.Load(); n != 1 {
		t.Fatalf("OnDisconnect fired %d times", n)
	}
	if err := a.Send(domain.NewOffer("x"), "bob"); !errors.Is(err, core.ErrChannelClosed) {
		t.Fatalf("Send after drop = %v", err)
	}
}

func TestChannel_DisconnectIsSilent(t *testing.T) {
	r := newRelay(t, Options{})
	a, _ := dial(t, r)

	var fired atomic.Int32
	a.OnDisconnect(func(error) { fired.Add(1) })
	a.Disconnect()
	a.Disconnect()
	if n := fired.Load(); n != 0 {
		t.Fatalf("OnDisconnect fired %d times on a requested disconnect", n)
	}
}

func TestChannel_Unreachable(t *testing.T) {
	r := newRelay(t, Options{})
	url := r.url
	r.srv.Close()

	ch := NewChannel(ClientOptions{HandshakeTimeout: time.Second})
	err := ch.Connect(t.Context(), url)
	var ce *core.ConnectionError
	if !errors.As(err, &ce) || ce.Endpoint != url {
		t.Fatalf("Connect = %v", err)
	}
	if err := ch.Send(domain.NewOffer("x"), "bob"); !errors.Is(err, core.ErrChannelClosed) {
		t.Fatalf("Send before connect = %v", err)
	}
	ch.Disconnect()
}
