package bot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	kit "drillbot/internal/transport"
	logx "drillbot/pkg/logx"
	"drillbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

type Command struct {
	Name        string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one routed update.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	From     kit.User
	Route    string
	Args     string
	Payload  string
	Message  *kit.Message
	Callback *kit.Callback
	ReqID    string
	Log      logx.Logger
}

// Router classifies updates and runs their handlers on a fixed set of
// workers. Updates from one sender always land on the same worker, so a
// participant's messages are handled in the order they arrived.
type Router struct {
	log    logx.Logger
	sender kit.Sender
	owners func(id int64) bool

	mu        sync.RWMutex
	commands  map[string]Command
	buttons   map[string]HandlerFunc
	callbacks map[string]map[string]CallbackRoute
	text      HandlerFunc

	workers  int
	queueCap int
}

func NewRouter(sender kit.Sender, isOwner func(id int64) bool, workers int, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = 4
	}
	if isOwner == nil {
		isOwner = func(int64) bool { return false }
	}
	return &Router{
		log:       log.With(logx.String("comp", "router")),
		sender:    sender,
		owners:    isOwner,
		commands:  map[string]Command{},
		buttons:   map[string]HandlerFunc{},
		callbacks: map[string]map[string]CallbackRoute{},
		workers:   workers,
		queueCap:  64,
	}
}

func (r *Router) Command(c Command) {
	r.mu.Lock()
	r.commands[c.Name] = c
	r.mu.Unlock()
}

func (r *Router) Button(key string, h HandlerFunc) {
	r.mu.Lock()
	r.buttons[key] = h
	r.mu.Unlock()
}

func (r *Router) Callback(c CallbackRoute) {
	r.mu.Lock()
	if r.callbacks[c.Scope] == nil {
		r.callbacks[c.Scope] = map[string]CallbackRoute{}
	}
	r.callbacks[c.Scope][c.Action] = c
	r.mu.Unlock()
}

// Text sets the handler for free text.
func (r *Router) Text(h HandlerFunc) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

// Commands lists registered commands visible to the sender.
func (r *Router) Commands(owner bool) []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Run dispatches updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	queues := make([]chan func(), r.workers)
	var wg sync.WaitGroup
	wg.Add(r.workers)
	for i := range queues {
		q := make(chan func(), r.queueCap)
		queues[i] = q
		go func() {
			defer wg.Done()
			for job := range q {
				job()
			}
		}()
	}
	r.log.Info("router started", logx.Int("workers", r.workers))
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job, req := r.route(ctx, up)
			if job == nil {
				continue
			}
			q := queues[shard(req.From.ID, len(queues))]
			select {
			case q <- job:
			default:
				req.Log.Warn("worker queue full; update dropped")
				_, _ = r.sender.SendText(ctx, req.Chat, "⏳ Слишком много сообщений, повтори чуть позже.", nil)
			}
		}
	}
}

func shard(id int64, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(id, 10)))
	return int(h.Sum32() % uint32(n))
}

// route resolves the handler for up. A nil job means the update is ignored.
func (r *Router) route(ctx context.Context, up kit.Update) (func(), *Request) {
	req := &Request{Update: up, ReqID: newReqID()}
	var (
		h       HandlerFunc
		access  Access
		timeout time.Duration
	)

	r.mu.RLock()
	switch up.Kind {
	case kit.UpdateCommand, kit.UpdateButton, kit.UpdateText:
		if up.Message == nil {
			r.mu.RUnlock()
			return nil, nil
		}
		m := up.Message
		req.Message = m
		req.From = m.From
		req.Chat = kit.ChatTarget{ChatID: m.ChatID}
		switch up.Kind {
		case kit.UpdateCommand:
			req.Route, req.Args = "/"+m.Command, m.Args
			if c, ok := r.commands[m.Command]; ok {
				h, access, timeout = c.Handle, c.Access, c.Timeout
			} else {
				h = r.unknownCommand
			}
		case kit.UpdateButton:
			req.Route = "button:" + m.Button
			h = r.buttons[m.Button]
		default:
			req.Route = "text"
			h = r.text
		}
	case kit.UpdateCallback:
		if up.Callback == nil {
			r.mu.RUnlock()
			return nil, nil
		}
		cb := up.Callback
		req.Callback = cb
		req.From = cb.From
		req.Chat = kit.ChatTarget{ChatID: cb.ChatID}
		scope, action, payload, ok := tgui.ParseData(cb.Data)
		if ok {
			req.Route, req.Payload = "cb:"+scope+":"+action, payload
			if c, found := r.callbacks[scope][action]; found {
				h, access, timeout = c.Handle, c.Access, c.Timeout
			}
		}
	}
	r.mu.RUnlock()

	if h == nil {
		return nil, nil
	}
	req.Log = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.From.ID),
		logx.String("route", req.Route),
	)
	final := Chain(h,
		MWPanicRecover(),
		MWRequestLog(),
		MWAccess(access, r.owners, r.sender),
		MWTimeout(timeout),
	)
	return func() { _ = final(ctx, req) }, req
}

func (r *Router) unknownCommand(ctx context.Context, req *Request) error {
	_, err := r.sender.SendText(ctx, req.Chat, "❓ Неизвестная команда. Список команд: /help", nil)
	return err
}

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{logx.String("kind", string(req.Update.Kind)), logx.Duration("dur", time.Since(start))}
			if err != nil {
				req.Log.Warn("request failed", append(fields, logx.Err(err))...)
			} else {
				req.Log.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWAccess rejects owner-only routes for everyone else.
func MWAccess(access Access, isOwner func(int64) bool, sender kit.Sender) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if access != AccessOwnerOnly || isOwner(req.From.ID) {
				return next(ctx, req)
			}
			req.Log.Info("access denied")
			if req.Callback != nil {
				if ad, ok := sender.(kit.Adapter); ok {
					return ad.AnswerCallback(ctx, req.Callback.ID, "⛔ Нет доступа")
				}
				return nil
			}
			_, err := sender.SendText(ctx, req.Chat, "⛔ Эта команда доступна только администратору.", nil)
			return err
		}
	}
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
