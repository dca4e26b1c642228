package session

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/core/mock"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/observe"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// loopHarness drives a joined session by hand: no loop goroutine, events are
// dispatched by drain and description steps run inline unless deferred.
type loopHarness struct {
	s       *session
	c       *Coordinator
	signal  *mock.Signal
	factory *mock.Factory
	metrics *observe.SessionMetrics

	deferAsync bool
	queued     []func()
}

func newLoopHarness(t *testing.T, self domain.ParticipantID) *loopHarness {
	t.Helper()
	h := &loopHarness{
		signal:  &mock.Signal{},
		factory: &mock.Factory{},
		metrics: observe.NewSessionMetrics(prometheus.NewRegistry()),
	}
	h.c = New(Options{MaxReoffers: 1, NewTransport: h.factory.New, Metrics: h.metrics})
	h.c.async = func(fn func()) {
		if h.deferAsync {
			h.queued = append(h.queued, fn)
			return
		}
		fn()
	}
	h.s = newSession(h.c, "room", self)
	h.s.signal = h.signal
	h.s.pool = newPool(self, h.factory.New, nil, h.s.post, h.c.participants.Set, h.metrics)
	h.s.joined = true
	t.Cleanup(h.s.cancel)
	return h
}

func (h *loopHarness) drain() {
	for {
		select {
		case ev := <-h.s.events:
			h.s.dispatch(ev)
		default:
			return
		}
	}
}

func (h *loopHarness) deliver(msg domain.Message) {
	h.s.post(signalEvent{msg: msg})
	h.drain()
}

func (h *loopHarness) runQueued() {
	q := h.queued
	h.queued = nil
	for _, fn := range q {
		fn()
	}
	h.drain()
}

func (h *loopHarness) link(t *testing.T, id domain.ParticipantID) *PeerLink {
	t.Helper()
	l, ok := h.s.pool.Get(id)
	if !ok {
		t.Fatalf("no link to %s", id)
	}
	return l
}

func joinedMsg(id domain.ParticipantID) domain.Message {
	return domain.Message{Type: domain.MsgParticipantJoined, ParticipantID: id}
}

func leftMsg(id domain.ParticipantID) domain.Message {
	return domain.Message{Type: domain.MsgParticipantLeft, ParticipantID: id}
}

func from(msg domain.Message, id domain.ParticipantID) domain.Message {
	msg.From = id
	return msg
}

func cand(s string) *domain.Candidate {
	return &domain.Candidate{Candidate: s}
}

func TestSession_OffersToNewcomer(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deliver(joinedMsg("b"))

	offers := h.signal.SentTo("b", domain.MsgOffer)
	if len(offers) != 1 || offers[0].SDP != "offer-to-b" {
		t.Fatalf("offers to b = %+v", offers)
	}
	if st := h.link(t, "b").state; st != LinkAwaitingAnswer {
		t.Fatalf("state = %s, want awaiting-answer", st)
	}

	h.deliver(from(domain.NewAnswer("answer-from-b"), "b"))
	if st := h.link(t, "b").state; st != LinkConnected {
		t.Fatalf("state = %s, want connected", st)
	}
	_, _, answers, _, _ := h.factory.Latest("b").Snapshot()
	if !slices.Equal(answers, []string{"answer-from-b"}) {
		t.Fatalf("applied answers = %v", answers)
	}
}

func TestSession_AnswersIncomingOffer(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "c")
	h.deliver(from(domain.NewOffer("offer-from-a"), "a"))

	answers := h.signal.SentTo("a", domain.MsgAnswer)
	if len(answers) != 1 || answers[0].SDP != "answer-to-a" {
		t.Fatalf("answers to a = %+v", answers)
	}
	if st := h.link(t, "a").state; st != LinkConnected {
		t.Fatalf("state = %s, want connected", st)
	}
	if got := h.c.participants.Get(); !slices.Equal(got, []domain.ParticipantID{"a"}) {
		t.Fatalf("participants = %v, want [a]", got)
	}
}

func TestSession_BuffersCandidatesUntilRemoteDescription(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deliver(joinedMsg("b"))

	h.deliver(from(domain.NewICECandidate(*cand("c1")), "b"))
	h.deliver(from(domain.NewICECandidate(*cand("c2")), "b"))
	if n := len(h.link(t, "b").pending); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
	_, _, _, applied, _ := h.factory.Latest("b").Snapshot()
	if len(applied) != 0 {
		t.Fatalf("candidates applied before remote description: %v", applied)
	}

	h.deliver(from(domain.NewAnswer("sdp"), "b"))
	h.deliver(from(domain.NewICECandidate(*cand("c3")), "b"))

	_, _, _, applied, _ = h.factory.Latest("b").Snapshot()
	var got []string
	for _, c := range applied {
		got = append(got, c.Candidate)
	}
	if !slices.Equal(got, []string{"c1", "c2", "c3"}) {
		t.Fatalf("applied candidates = %v, want [c1 c2 c3]", got)
	}
}

func TestSession_LocalCandidatesGoToTheirPeer(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deliver(joinedMsg("b"))
	h.factory.Latest("b").EmitCandidate(domain.Candidate{Candidate: "local"})
	h.drain()

	sent := h.signal.SentTo("b", domain.MsgICECandidate)
	if len(sent) != 1 || sent[0].Candidate.Candidate != "local" {
		t.Fatalf("candidates to b = %+v", sent)
	}
}

func TestSession_CandidateFromUnknownIsIgnored(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deliver(from(domain.NewICECandidate(*cand("c")), "ghost"))

	if h.s.pool.Len() != 0 {
		t.Fatal("candidate from an unknown id created a link")
	}
	if got := testutil.ToFloat64(h.metrics.StaleMessages.WithLabelValues("ice-candidate")); got != 1 {
		t.Fatalf("stale candidates = %v, want 1", got)
	}
}

func TestSession_StaleAnswerAfterLeave(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deliver(joinedMsg("b"))
	h.deliver(leftMsg("b"))
	h.deliver(from(domain.NewAnswer("late"), "b"))
	h.deliver(from(domain.NewICECandidate(*cand("late")), "b"))

	if h.s.pool.Len() != 0 {
		t.Fatal("late message recreated the link")
	}
	if got := h.c.participants.Get(); len(got) != 0 {
		t.Fatalf("participants = %v, want empty", got)
	}
	if got := testutil.ToFloat64(h.metrics.StaleMessages.WithLabelValues("answer")); got != 1 {
		t.Fatalf("stale answers = %v, want 1", got)
	}
}

func TestSession_UnsolicitedAnswerIsStale(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "c")
	h.deliver(from(domain.NewOffer("o"), "a"))
	h.deliver(from(domain.NewAnswer("unexpected"), "a"))

	_, _, answers, _, _ := h.factory.Latest("a").Snapshot()
	if len(answers) != 0 {
		t.Fatalf("answer applied on a connected answerer link: %v", answers)
	}
	if st := h.link(t, "a").state; st != LinkConnected {
		t.Fatalf("state = %s, want connected", st)
	}
}

func TestSession_AsyncResultAfterDestroyIsDiscarded(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deferAsync = true
	h.deliver(joinedMsg("b"))
	h.deliver(leftMsg("b"))
	h.runQueued()

	if sent := h.signal.SentMessages(); len(sent) != 0 {
		t.Fatalf("sent after destroy: %+v", sent)
	}
}

func TestSession_AsyncResultAfterResetIsDiscarded(t *testing.T) {
	t.Parallel()

	// b is polite towards a, so a colliding offer from a resets b's link
	// while b's own CreateOffer is still running.
	h := newLoopHarness(t, "b")
	h.deferAsync = true
	h.deliver(joinedMsg("a"))
	h.deliver(from(domain.NewOffer("offer-from-a"), "a"))
	h.runQueued()

	if offers := h.signal.SentTo("a", domain.MsgOffer); len(offers) != 0 {
		t.Fatalf("stale offer sent: %+v", offers)
	}
	if answers := h.signal.SentTo("a", domain.MsgAnswer); len(answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(answers))
	}
	if st := h.link(t, "a").state; st != LinkConnected {
		t.Fatalf("state = %s, want connected", st)
	}
}

func TestSession_YieldKeepsCandidatesOfRemoteOffer(t *testing.T) {
	t.Parallel()

	// b is polite towards a. a's first candidate overtakes a's offer while
	// b is still waiting for an answer to its own offer.
	h := newLoopHarness(t, "b")
	h.deliver(joinedMsg("a"))
	if st := h.link(t, "a").state; st != LinkAwaitingAnswer {
		t.Fatalf("state = %s, want awaiting-answer", st)
	}
	h.deliver(from(domain.NewICECandidate(*cand("early")), "a"))
	h.deliver(from(domain.NewOffer("offer-from-a"), "a"))
	h.deliver(from(domain.NewICECandidate(*cand("late")), "a"))

	_, offers, _, applied, _ := h.factory.Latest("a").Snapshot()
	if !slices.Equal(offers, []string{"offer-from-a"}) {
		t.Fatalf("applied offers = %v", offers)
	}
	var got []string
	for _, c := range applied {
		got = append(got, c.Candidate)
	}
	if !slices.Equal(got, []string{"early", "late"}) {
		t.Fatalf("candidates on the answering transport = %v, want [early late]", got)
	}
}

func TestSession_LocalCandidatesFollowOffer(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deferAsync = true
	h.deliver(joinedMsg("b"))
	h.factory.Latest("b").EmitCandidate(domain.Candidate{Candidate: "c1"})
	h.factory.Latest("b").EmitCandidate(domain.Candidate{Candidate: "c2"})
	h.drain()
	if sent := h.signal.SentMessages(); len(sent) != 0 {
		t.Fatalf("sent before the offer: %+v", sent)
	}

	h.runQueued()
	var got []string
	for _, m := range h.signal.SentMessages() {
		switch m.Msg.Type {
		case domain.MsgOffer:
			got = append(got, "offer")
		case domain.MsgICECandidate:
			got = append(got, m.Msg.Candidate.Candidate)
		}
	}
	if !slices.Equal(got, []string{"offer", "c1", "c2"}) {
		t.Fatalf("send order = %v", got)
	}
}

func TestSession_ReoffersOnceOnFailure(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deliver(joinedMsg("b"))
	h.factory.Latest("b").EmitState(core.TransportFailed)
	h.drain()

	if n := len(h.factory.All("b")); n != 2 {
		t.Fatalf("transports = %d, want 2", n)
	}
	if n := len(h.signal.SentTo("b", domain.MsgOffer)); n != 2 {
		t.Fatalf("offers = %d, want 2", n)
	}

	h.factory.Latest("b").EmitState(core.TransportFailed)
	h.drain()

	if n := len(h.signal.SentTo("b", domain.MsgOffer)); n != 2 {
		t.Fatalf("offers after second failure = %d, want 2", n)
	}
	if st := h.link(t, "b").state; st != LinkFailed {
		t.Fatalf("state = %s, want failed", st)
	}
	if got := testutil.ToFloat64(h.metrics.NegotiationFailures); got != 2 {
		t.Fatalf("failures = %v, want 2", got)
	}
	if got := h.c.participants.Get(); !slices.Equal(got, []domain.ParticipantID{"b"}) {
		t.Fatalf("failed link left the roster: %v", got)
	}
}

func TestSession_PoliteSideDoesNotReoffer(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "z")
	h.deliver(from(domain.NewOffer("o"), "a"))
	h.factory.Latest("a").EmitState(core.TransportFailed)
	h.drain()

	if n := len(h.signal.SentTo("a", domain.MsgOffer)); n != 0 {
		t.Fatalf("polite side sent %d offers", n)
	}
	if st := h.link(t, "a").state; st != LinkFailed {
		t.Fatalf("state = %s, want failed", st)
	}

	// The remote re-offers and the link recovers.
	h.deliver(from(domain.NewOffer("again"), "a"))
	if st := h.link(t, "a").state; st != LinkConnected {
		t.Fatalf("state = %s, want connected", st)
	}
}

func TestSession_RemoteTrackPublishesStream(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, "a")
	h.deliver(joinedMsg("b"))
	obs := h.s.pool.Stream("b")
	h.factory.Latest("b").EmitTrack(mock.RemoteTrack{TrackID: "t1", Stream: "s", TrackKnd: webrtc.RTPCodecTypeAudio})
	h.drain()

	rs := obs.Get()
	if rs == nil || rs.Participant != "b" || len(rs.Tracks) != 1 {
		t.Fatalf("stream = %+v", rs)
	}

	h.deliver(leftMsg("b"))
	if obs.Get() != nil {
		t.Fatal("stream not cleared after leave")
	}
}

// glarePair wires two hand-driven sessions back to back through their mock
// signals.
type glarePair struct {
	a, b  *loopHarness
	seenA int
	seenB int
}

func (p *glarePair) pump() {
	for {
		moved := false
		sentA := p.a.signal.SentMessages()
		for _, m := range sentA[p.seenA:] {
			p.b.deliver(from(m.Msg, p.a.s.self))
			moved = true
		}
		p.seenA = len(sentA)

		sentB := p.b.signal.SentMessages()
		for _, m := range sentB[p.seenB:] {
			p.a.deliver(from(m.Msg, p.b.s.self))
			moved = true
		}
		p.seenB = len(sentB)
		if !moved {
			return
		}
	}
}

func TestSession_GlareResolvesToOneNegotiation(t *testing.T) {
	t.Parallel()

	p := &glarePair{a: newLoopHarness(t, "a"), b: newLoopHarness(t, "b")}
	p.a.deliver(joinedMsg("b"))
	p.b.deliver(joinedMsg("a"))
	p.pump()

	la, lb := p.a.link(t, "b"), p.b.link(t, "a")
	if la.state != LinkConnected || lb.state != LinkConnected {
		t.Fatalf("states a→b=%s b→a=%s, want connected", la.state, lb.state)
	}
	if la.Polite() || !lb.Polite() {
		t.Fatal("b must be the polite side")
	}

	// The impolite side kept its offer and applied exactly one answer.
	_, offersApplied, answers, _, _ := p.a.factory.Latest("b").Snapshot()
	if len(offersApplied) != 0 || len(answers) != 1 {
		t.Fatalf("a applied offers=%v answers=%v", offersApplied, answers)
	}
	// The polite side threw its offer away with its transport and answered.
	if n := len(p.b.factory.All("a")); n != 2 {
		t.Fatalf("b transports towards a = %d, want 2", n)
	}
	_, offersApplied, _, _, _ = p.b.factory.Latest("a").Snapshot()
	if !slices.Equal(offersApplied, []string{"offer-to-b"}) {
		t.Fatalf("b applied offers = %v", offersApplied)
	}
}

// TestSession_ParticipantsMatchLinks applies random relay traffic and checks
// after every step that the published roster is exactly the set of links.
func TestSession_ParticipantsMatchLinks(t *testing.T) {
	t.Parallel()

	ids := []domain.ParticipantID{"a", "b", "n", "x", "y"}
	for seed := uint64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7))
		h := newLoopHarness(t, "m")
		model := map[domain.ParticipantID]bool{}

		for step := 0; step < 200; step++ {
			id := ids[rng.IntN(len(ids))]
			switch rng.IntN(7) {
			case 0:
				h.deliver(joinedMsg(id))
				model[id] = true
			case 1:
				h.deliver(leftMsg(id))
				delete(model, id)
			case 2:
				h.deliver(from(domain.NewOffer("o"), id))
				model[id] = true
			case 3:
				h.deliver(from(domain.NewAnswer("a"), id))
			case 4:
				h.deliver(from(domain.NewICECandidate(*cand("c")), id))
			case 5:
				if tr := h.factory.Latest(id); tr != nil {
					tr.EmitState(core.TransportFailed)
					h.drain()
				}
			case 6:
				if tr := h.factory.Latest(id); tr != nil {
					tr.EmitTrack(mock.RemoteTrack{TrackID: "t", TrackKnd: webrtc.RTPCodecTypeAudio})
					h.drain()
				}
			}

			want := make([]domain.ParticipantID, 0, len(model))
			for id := range model {
				want = append(want, id)
			}
			slices.Sort(want)
			if got := h.s.pool.IDs(); !slices.Equal(got, want) {
				t.Fatalf("seed %d step %d: links = %v, want %v", seed, step, got, want)
			}
			if got := h.c.participants.Get(); !slices.Equal(got, want) {
				t.Fatalf("seed %d step %d: participants = %v, want %v", seed, step, got, want)
			}
		}
		h.s.pool.DestroyAll()
		if got := h.c.participants.Get(); len(got) != 0 {
			t.Fatalf("seed %d: participants after teardown = %v", seed, got)
		}
	}
}
