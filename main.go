// File: main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"watchdeck/internal/alertfeed"
	"watchdeck/internal/apperr"
	"watchdeck/internal/auth"
	"watchdeck/internal/config"
	"watchdeck/internal/dispatch"
	"watchdeck/internal/registry"
	"watchdeck/internal/session"
	"watchdeck/internal/store"
	"watchdeck/internal/view"
	"watchdeck/internal/watchlist"
)

/* ====================
   UI messages
   ==================== */

type sessionMsg struct {
	Type     string `json:"type"` // "session"
	Phase    string `json:"phase"`
	Identity string `json:"identity,omitempty"` // kind, not id
}

type stateMsg struct {
	Type      string             `json:"type"` // "state"
	Watchlist []string           `json:"watchlist"`
	Alerts    []alertfeed.Record `json:"alerts"`
	Pending   bool               `json:"pending"`
}

type noticeMsg struct {
	Type  string `json:"type"` // "notice"
	Level string `json:"level"`
	Text  string `json:"text"`
}

func sessionMsgFor(s session.Session) sessionMsg {
	m := sessionMsg{Type: "session", Phase: string(s.Phase)}
	if s.Identity != nil {
		m.Identity = string(s.Identity.Kind)
	}
	return m
}

func stateMsgFor(st view.State) stateMsg {
	return stateMsg{Type: "state", Watchlist: st.Watchlist, Alerts: st.Alerts, Pending: st.Pending}
}

func noticeMsgFor(n view.Notice) noticeMsg {
	return noticeMsg{Type: "notice", Level: string(n.Severity), Text: n.Text}
}

/* ====================
   Websocket hub
   ==================== */

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

type client struct {
	c    *websocket.Conn
	out  chan any
	done chan struct{}
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) broadcast(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- v:
		default:
		}
	}
}

// serveWS upgrades a tab; greet supplies the frames that bring it up to date.
func (h *hub) serveWS(greet func() []any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		cl := &client{c: conn, out: make(chan any, 256), done: make(chan struct{})}
		h.mu.Lock()
		h.clients[cl] = struct{}{}
		h.mu.Unlock()

		// writer
		go func() {
			ping := time.NewTicker(45 * time.Second)
			defer ping.Stop()
			for {
				select {
				case v := <-cl.out:
					_ = conn.WriteJSON(v)
				case <-ping.C:
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				case <-cl.done:
					return
				}
			}
		}()

		for _, v := range greet() {
			select {
			case cl.out <- v:
			default:
			}
		}

		// reader: the UI drives the app over HTTP, so just keep the
		// connection honest with pongs.
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		close(cl.done)
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
	}
}

/* ====================
   HTTP helpers
   ==================== */

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func okResp() map[string]any { return map[string]any{"ok": true} }

func errResp(err error) map[string]any {
	return map[string]any{"ok": false, "error": apperr.Message(err)}
}

func serveStatic(mux *http.ServeMux, webDir string) {
	abs, _ := filepath.Abs(webDir)
	log.Printf("Serving static from %s", abs)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filepath.Join(webDir, "index.html"))
	})
	fs := http.FileServer(http.Dir(webDir))
	mux.Handle("/assets/", http.StripPrefix("/assets/", fs))
}

/* ====================
   Offline demo seeding
   ==================== */

// seedDemoAlerts drops a couple of alert records into the in-memory store so
// an offline run has a feed to show.
func seedDemoAlerts(mem *store.Memory, alertsPath string) {
	now := time.Now().UTC()
	rows := []map[string]any{
		{
			"ticker": "AAPL", "kind": string(alertfeed.SignificantIncrease),
			"percentage_change": 6.4, "period_days": 5, "current_price": 231.12,
			"occurred_at": now.Format(time.RFC3339), "is_read": false,
		},
		{
			"ticker": "TSLA", "kind": string(alertfeed.SignificantDrop),
			"percentage_change": -8.1, "period_days": 3, "current_price": 214.55,
			"occurred_at": now.Add(-time.Hour).Format(time.RFC3339),
			"note":        "earnings miss", "is_read": false,
		},
	}
	for _, r := range rows {
		_ = mem.WriteMerge(context.Background(), alertsPath+"/"+uuid.NewString(), r)
	}
}

/* ====================
   main
   ==================== */

func main() {
	portOverride := flag.Int("port", 0, "override server_port")
	cfgPath := flag.String("config", "config.yaml", "config file")
	offline := flag.Bool("offline", false, "run against the in-memory store with a local auth stub")
	flag.Parse()

	_ = godotenv.Load(".env")

	cfg, err := config.Load(*cfgPath)
	if err != nil && !*offline {
		log.Fatalf("[config] %v", err)
	}
	cfg.ApplyEnv()
	if *portOverride != 0 {
		cfg.ServerPort = *portOverride
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = 8089
	}
	if *offline {
		// nothing is dialed offline; fill the bundle so bootstrap validation
		// passes with honest placeholders
		cfg.Backend.Namespace = "watchdeck-dev"
		cfg.Backend.APIKey = "offline"
		cfg.Backend.WSURL = "ws://localhost/offline"
		cfg.Auth.BaseURL = "http://localhost/offline"
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := dispatch.NewLoop(1024)
	go loop.Run(rootCtx)

	var st store.Store
	var mem *store.Memory
	var svc auth.Service
	if *offline {
		mem = store.NewMemory()
		st = mem
		svc = auth.NewDev()
		log.Printf("[main] offline mode: in-memory store, local auth")
	} else {
		remote := store.NewRemote(cfg.Backend.WSURL, cfg.Backend.APIKey)
		go func() {
			if err := remote.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				log.Printf("[store] stopped: %v", err)
			}
		}()
		st = remote
		svc = auth.NewClient(cfg.Auth.BaseURL, cfg.Backend.APIKey)
	}

	h := newHub()
	views := view.NewStore()
	views.Subscribe(func(s view.State) { h.broadcast(stateMsgFor(s)) })
	notif := view.NewNotifier(func(n view.Notice) { h.broadcast(noticeMsgFor(n)) })

	coord := watchlist.NewCoordinator(st, loop,
		func(tickers []string) { views.ApplyOptimisticWatchlist(tickers) },
		func(kind watchlist.MutationKind, ticker string, err error) {
			if err != nil {
				notif.Error(apperr.Message(err))
				return
			}
			switch kind {
			case watchlist.MutationAdd:
				notif.Success(fmt.Sprintf("Added %s to watchlist", ticker))
			case watchlist.MutationRemove:
				notif.Success(fmt.Sprintf("Removed %s from watchlist", ticker))
			}
		})

	// CSV audit trail of alert records as they first appear. Only touched
	// from registry handlers, which run on the dispatch loop.
	seenAlerts := make(map[string]struct{})
	logNewAlerts := func(rs []alertfeed.Record) {
		if cfg.Alerts.CSVDir == "" {
			return
		}
		for _, r := range rs {
			if _, ok := seenAlerts[r.ID]; ok {
				continue
			}
			seenAlerts[r.ID] = struct{}{}
			if err := alertfeed.LogToCSV(cfg.Alerts.CSVDir, r); err != nil {
				log.Printf("[alerts] csv log: %v", err)
			}
		}
	}

	reg := registry.New(st, loop, cfg.Backend.Namespace, registry.Handlers{
		OnWatchlist: func(_ string, d store.Document) {
			doc := watchlist.FromSnapshot(d)
			coord.ApplySnapshot(doc)
			views.ApplyWatchlist(doc.Tickers)
		},
		OnAlerts: func(_ string, cs store.CollectionSnapshot) {
			rs := alertfeed.FromSnapshot(cs)
			views.ApplyAlerts(rs)
			logNewAlerts(rs)
		},
		OnError: func(resource string, err error) {
			log.Printf("[registry] %s listener: %v", resource, err)
			notif.Error(apperr.Message(err))
		},
	})
	defer reg.Close()

	sessions := session.NewManager(svc, loop, cfg.Auth.GuestToken)
	sessions.Subscribe(func(s session.Session) {
		reg.Rekey(s.Identity)
		if s.Identity != nil {
			coord.Bind(reg.WatchlistPath(s.Identity.ID), s.Identity.ID)
			if mem != nil {
				seedDemoAlerts(mem, reg.AlertsPath(s.Identity.ID))
			}
		} else {
			coord.Bind("", "")
			views.Reset()
		}
		h.broadcast(sessionMsgFor(s))
	})
	defer sessions.Close()

	if err := sessions.Bootstrap(rootCtx, cfg); err != nil {
		// Configuration failures are unrecoverable and surfaced exactly once.
		log.Fatalf("[session] bootstrap: %v", err)
	}

	// web mux
	mux := http.NewServeMux()
	serveStatic(mux, "web")
	mux.HandleFunc("/ws", h.serveWS(func() []any {
		return []any{
			sessionMsgFor(sessions.Current()),
			stateMsgFor(views.Snapshot()),
			noticeMsgFor(notif.Current()),
		}
	}))

	mux.HandleFunc("/api/session/guest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := sessions.SignInGuest(r.Context()); err != nil {
			notif.Error(apperr.Message(err))
			writeJSON(w, errResp(err))
			return
		}
		notif.Success("Signed in as guest")
		writeJSON(w, okResp())
	})

	mux.HandleFunc("/api/session/credentials", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Mode     string `json:"mode"` // "login" | "signup"
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		mode := session.ModeLogin
		if strings.EqualFold(req.Mode, string(session.ModeSignUp)) {
			mode = session.ModeSignUp
		}
		if err := sessions.SignInWithCredentials(r.Context(), req.Email, req.Password, mode); err != nil {
			notif.Error(apperr.Message(err))
			writeJSON(w, errResp(err))
			return
		}
		notif.Success("Signed in")
		writeJSON(w, okResp())
	})

	mux.HandleFunc("/api/session/signout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := sessions.SignOut(r.Context()); err != nil {
			notif.Error(apperr.Message(err))
			writeJSON(w, errResp(err))
			return
		}
		notif.Success("Signed out")
		writeJSON(w, okResp())
	})

	mux.HandleFunc("/api/watchlist", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Action string `json:"action"` // "add" | "remove"
			Ticker string `json:"ticker"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		var err error
		switch strings.ToLower(req.Action) {
		case "add":
			err = coord.AddTicker(req.Ticker)
		case "remove":
			err = coord.RemoveTicker(req.Ticker)
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		if err != nil {
			notif.Error(apperr.Message(err))
			writeJSON(w, errResp(err))
			return
		}
		writeJSON(w, okResp())
	})

	// Analysis passthrough: the indicator crunching lives in a sibling
	// service; the client only relays the query.
	mux.HandleFunc("/api/analyze", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if strings.TrimSpace(cfg.Analysis.BaseURL) == "" {
			writeJSON(w, errResp(apperr.New(apperr.Configuration, "analysis service is not configured")))
			return
		}
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
			strings.TrimRight(cfg.Analysis.BaseURL, "/")+"/v1/analyze", r.Body)
		if err != nil {
			writeJSON(w, errResp(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := (&http.Client{Timeout: 20 * time.Second}).Do(req)
		if err != nil {
			writeJSON(w, errResp(err))
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		s := sessions.Current()
		vs := views.Snapshot()
		out := map[string]any{
			"phase":     string(s.Phase),
			"watchlist": len(vs.Watchlist),
			"alerts":    len(vs.Alerts),
			"pending":   coord.PendingCount(),
			"clients":   h.count(),
			"port":      cfg.ServerPort,
		}
		if s.Identity != nil {
			out["identity"] = string(s.Identity.Kind)
		}
		writeJSON(w, out)
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("UI: http://localhost:%d", cfg.ServerPort)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}
