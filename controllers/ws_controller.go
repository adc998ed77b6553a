package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openclass/liveforum/config"
	"github.com/openclass/liveforum/gateway"
	"github.com/openclass/liveforum/middleware"
	"github.com/openclass/liveforum/models"
	"github.com/openclass/liveforum/realtime"
	"github.com/openclass/liveforum/store"
	"github.com/openclass/liveforum/utils"
)

const intentDispatchTimeout = 10 * time.Second

// Client frame actions.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionIntent      = "intent"
)

// Server frame types beyond the event taxonomy.
const (
	frameSnapshot = "snapshot"
	frameAck      = "ack"
	frameError    = "error"
	frameResync   = "resync"
)

type clientFrame struct {
	Action string `json:"action"`
	Ref    string `json:"ref,omitempty"`
	Room   string `json:"room,omitempty"`
	Intent *struct {
		Type   gateway.IntentType `json:"type"`
		Room   string             `json:"room"`
		Params json.RawMessage    `json:"params"`
	} `json:"intent,omitempty"`
}

type serverFrame struct {
	Type    string      `json:"type"`
	Ref     string      `json:"ref,omitempty"`
	Room    string      `json:"room,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WSController upgrades connections and runs the realtime protocol: a
// client subscribes to rooms, receives an initial snapshot followed by
// the room's event stream, and submits mutation intents on the same
// socket. Intent failures are answered on the issuing connection only.
type WSController struct {
	agg      *store.Aggregate
	gw       *gateway.Gateway
	bus      *realtime.Bus
	registry *realtime.Registry
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*realtime.Session
}

// NewWSController creates a new WSController instance.
func NewWSController(agg *store.Aggregate, gw *gateway.Gateway, bus *realtime.Bus, registry *realtime.Registry, log *zap.SugaredLogger) *WSController {
	origins := config.Get().AllowedOrigins
	return &WSController{
		agg:      agg,
		gw:       gw,
		bus:      bus,
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
		sessions: make(map[string]*realtime.Session),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve upgrades the request and runs the session until the peer leaves.
func (w *WSController) Serve(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, utils.CodeUnauthorized+10, "unauthorized")
		return
	}
	role := middleware.ActorRole(ctx)

	conn, err := w.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		w.log.Warnw("websocket upgrade failed", "err", err)
		return
	}

	var session *realtime.Session
	session = realtime.NewSession(conn, userID, w.log,
		func(raw []byte) []byte {
			return w.handleFrame(session, role, raw)
		},
		func(s *realtime.Session) {
			w.mu.Lock()
			delete(w.sessions, s.ID())
			w.mu.Unlock()
			w.registry.UnsubscribeAll(s.ID())
			w.log.Infow("session closed", "session_id", s.ID(), "user_id", s.UserID())
		},
	)

	w.mu.Lock()
	w.sessions[session.ID()] = session
	w.mu.Unlock()

	w.log.Infow("session opened", "session_id", session.ID(), "user_id", userID)
	session.Run()
}

// DrainSessions closes every live session, used during graceful shutdown.
func (w *WSController) DrainSessions() {
	w.mu.Lock()
	sessions := make([]*realtime.Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		sessions = append(sessions, s)
	}
	w.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// handleFrame processes one inbound frame and returns the reply, nil when
// the reply is pushed asynchronously.
func (w *WSController) handleFrame(session *realtime.Session, role models.Role, raw []byte) []byte {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return errFrame("", "", "BadIntent", "malformed frame")
	}

	switch frame.Action {
	case actionSubscribe:
		return w.subscribe(session, frame)
	case actionUnsubscribe:
		if sub := session.Drop(frame.Room); sub != nil {
			w.bus.Unsubscribe(session.ID(), frame.Room)
		}
		return ackFrame(frame.Ref, frame.Room, nil)
	case actionIntent:
		return w.dispatchIntent(session, role, frame)
	default:
		return errFrame(frame.Ref, frame.Room, "BadIntent", "unknown action")
	}
}

// subscribe joins the room, pushes the current snapshot, then streams
// events. The snapshot is read after the subscription is live, so any
// event racing the join is either in the snapshot or delivered after it;
// receivers deduplicate by entity id.
func (w *WSController) subscribe(session *realtime.Session, frame clientFrame) []byte {
	if _, err := models.ParseRoom(frame.Room); err != nil {
		return errFrame(frame.Ref, frame.Room, "BadIntent", "invalid room identifier")
	}

	sub := w.bus.Subscribe(session.ID(), frame.Room, func(evt realtime.Event) {
		if !session.SendJSON(evt) {
			w.log.Warnw("outbound buffer full, closing session",
				"session_id", session.ID(), "room", evt.Room)
			session.Close()
		}
	})
	session.Track(sub)
	go w.watchSubscription(session, sub)

	ctx, cancel := context.WithTimeout(context.Background(), intentDispatchTimeout)
	defer cancel()
	posts, err := w.agg.Snapshot(ctx, frame.Room)
	if err != nil {
		session.Drop(frame.Room)
		w.bus.Unsubscribe(session.ID(), frame.Room)
		return errFrame(frame.Ref, frame.Room, "Internal", "failed to load snapshot")
	}

	session.SendJSON(serverFrame{
		Type: frameSnapshot,
		Ref:  frame.Ref,
		Room: frame.Room,
		Payload: gin.H{
			"posts":   posts,
			"members": w.registry.MemberCount(frame.Room),
		},
	})
	return nil
}

// watchSubscription notifies the client when its event stream lapsed and
// a snapshot resync is required.
func (w *WSController) watchSubscription(session *realtime.Session, sub *realtime.Subscription) {
	<-sub.Done()
	if errors.Is(sub.Err(), realtime.ErrSlowConsumer) {
		session.SendJSON(serverFrame{Type: frameResync, Room: sub.Room()})
	}
}

func (w *WSController) dispatchIntent(session *realtime.Session, role models.Role, frame clientFrame) []byte {
	if frame.Intent == nil {
		return errFrame(frame.Ref, frame.Room, "BadIntent", "missing intent body")
	}
	room := frame.Intent.Room
	if room == "" {
		room = frame.Room
	}

	ctx, cancel := context.WithTimeout(context.Background(), intentDispatchTimeout)
	defer cancel()
	result, err := w.gw.Dispatch(ctx, gateway.Intent{
		Type:      frame.Intent.Type,
		ActorID:   session.UserID(),
		ActorRole: role,
		Room:      room,
		Params:    frame.Intent.Params,
	})
	if err != nil {
		return errFrame(frame.Ref, room, gateway.ErrorKind(err), intentErrorMessage(err))
	}
	return ackFrame(frame.Ref, room, result)
}

// intentErrorMessage keeps internal details off the wire.
func intentErrorMessage(err error) string {
	switch gateway.ErrorKind(err) {
	case "Unauthorized":
		return "not allowed"
	case "NotFound":
		return "target not found"
	case "InvalidState":
		return "conflicting state"
	case "BadIntent":
		return err.Error()
	default:
		return "internal error"
	}
}

func ackFrame(ref, room string, payload interface{}) []byte {
	b, _ := json.Marshal(serverFrame{Type: frameAck, Ref: ref, Room: room, Payload: payload})
	return b
}

func errFrame(ref, room, kind, message string) []byte {
	b, _ := json.Marshal(serverFrame{
		Type:    frameError,
		Ref:     ref,
		Room:    room,
		Payload: errorPayload{Kind: kind, Message: message},
	})
	return b
}
