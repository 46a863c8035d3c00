package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ygarg25/hyperliquid-exporter/internal/config"
	"github.com/ygarg25/hyperliquid-exporter/internal/detector"
	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
	"github.com/ygarg25/hyperliquid-exporter/internal/metrics"
	"github.com/ygarg25/hyperliquid-exporter/internal/utils"
)

//go:embed static/*
var staticFS embed.FS

const writeTimeout = 5 * time.Second

// RosterSource hands the dashboard its last known roster snapshot.
type RosterSource interface {
	FetchRoster(ctx context.Context) (*hlapi.Roster, error)
}

type Server struct {
	cfg      *config.Config
	source   RosterSource
	det      *detector.Detector
	exporter *metrics.Exporter

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	logChan   chan logger.Entry
	mu        sync.Mutex
}

func NewServer(cfg *config.Config, source RosterSource, det *detector.Detector, exporter *metrics.Exporter) *Server {
	s := &Server{
		cfg:      cfg,
		source:   source,
		det:      det,
		exporter: exporter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 16),
		logChan:   make(chan logger.Entry, 100),
	}
	logger.SetStream(s.logChan)
	return s
}

func (s *Server) Start(ctx context.Context) {
	port := s.cfg.Advanced.DashboardPort
	if port <= 0 {
		return
	}
	go s.handleMessages()
	go s.handleLogs()
	go s.runServer(ctx, port)
}

func (s *Server) runServer(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.exporter.Handler())
	mux.HandleFunc("/ws", s.handleConnections)

	mux.Handle("/static/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		content, _ := staticFS.ReadFile("static/index.html")
		w.Header().Set("Content-Type", "text/html")
		w.Write(content)
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{Addr: addr, Handler: mux}

	logger.Info("DASH", "HTTP server listening on %s", addr)
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("DASH", "HTTP server failed on %s: %v", addr, err)
	}
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("DASH", "WS upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[ws] = true
	s.mu.Unlock()

	if state, err := s.stateJSON(r.Context()); err == nil {
		s.write(ws, state)
	}

	configMsg := map[string]interface{}{
		"type":      "config",
		"chain":     s.cfg.Chain.Name,
		"hide_logs": s.cfg.Advanced.HideLogs,
	}
	if b, err := json.Marshal(configMsg); err == nil {
		s.write(ws, b)
	}
}

func (s *Server) handleMessages() {
	for msg := range s.broadcast {
		s.mu.Lock()
		for client := range s.clients {
			if err := s.write(client, msg); err != nil {
				client.Close()
				delete(s.clients, client)
			}
		}
		s.mu.Unlock()
	}
}

// write bounds every client write. A wedged client fails the deadline
// and gets dropped instead of stalling the pump.
func (s *Server) write(client *websocket.Conn, msg []byte) error {
	client.SetWriteDeadline(time.Now().Add(writeTimeout))
	return client.WriteMessage(websocket.TextMessage, msg)
}

func (s *Server) handleLogs() {
	type logMessage struct {
		Type string `json:"type"`
		logger.Entry
	}
	for entry := range s.logChan {
		b, err := json.Marshal(logMessage{Type: "log", Entry: entry})
		if err != nil {
			continue
		}
		s.mu.Lock()
		for client := range s.clients {
			// Fire and forget so a slow client cannot stall logging.
			s.write(client, b)
		}
		s.mu.Unlock()
	}
}

// BroadcastUpdate pushes the current state to every connected client.
func (s *Server) BroadcastUpdate(ctx context.Context) {
	if s.cfg.Advanced.DashboardPort <= 0 {
		return
	}
	state, err := s.stateJSON(ctx)
	if err != nil {
		logger.Warn("DASH", "State marshal for broadcast failed: %v", err)
		return
	}
	// Never let a backed-up pump block the poll loop; the next poll
	// carries fresher state anyway.
	select {
	case s.broadcast <- state:
	default:
		logger.Debug("DASH", "Broadcast queue full, dropping state push")
	}
}

func (s *Server) stateJSON(ctx context.Context) ([]byte, error) {
	roster, err := s.source.FetchRoster(ctx)
	if err != nil {
		return nil, err
	}
	states := s.det.States()

	type validatorDTO struct {
		Address      string `json:"address"`
		Name         string `json:"name"`
		Jailed       bool   `json:"jailed"`
		Active       bool   `json:"active"`
		Stake        string `json:"stake"`
		RecentBlocks int    `json:"recent_blocks"`
		Phase        string `json:"phase"`
		JailedSince  string `json:"jailed_since,omitempty"`
		Attempt      int    `json:"attempt,omitempty"`
	}
	type stateDTO struct {
		Type       string         `json:"type"`
		Chain      string         `json:"chain"`
		Total      int            `json:"total"`
		Jailed     int            `json:"jailed"`
		Validators []validatorDTO `json:"validators"`
	}

	dtos := make([]validatorDTO, 0, len(roster.Validators))
	jailed := 0
	for _, v := range roster.Validators {
		addr := hlapi.NormalizeAddress(v.Validator)
		dto := validatorDTO{
			Address:      addr,
			Name:         v.Name,
			Jailed:       v.IsJailed,
			Active:       v.IsActive,
			Stake:        utils.FormatStake(v.Stake.String()),
			RecentBlocks: v.NRecentBlocks,
			Phase:        detector.PhaseHealthy.String(),
		}
		if st, ok := states[addr]; ok {
			dto.Phase = st.Phase
			if !st.JailedSince.IsZero() {
				dto.JailedSince = st.JailedSince.Format(time.RFC3339)
			}
			dto.Attempt = st.Attempt
		}
		if v.IsJailed {
			jailed++
		}
		dtos = append(dtos, dto)
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Name < dtos[j].Name })

	return json.Marshal(stateDTO{
		Type:       "state",
		Chain:      s.cfg.Chain.Name,
		Total:      len(dtos),
		Jailed:     jailed,
		Validators: dtos,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.stateJSON(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(state)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","chain":%q}`, s.cfg.Chain.Name)
}
