// Package api exposes the bridge over HTTP: status, device and variable
// snapshots, simulator and project control, plus a websocket stream of
// lifecycle events. The simvar routes speak the same shapes the HTTP
// bridge connector consumes, so one instance can act as the simulator
// gateway for another.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/openflite/openflite"
	"github.com/openflite/openflite/connect"
	"github.com/openflite/openflite/protocol"
)

const defaultListenAddr = "127.0.0.1:8320"
const httpTimeoutsMs = 3000

// Server serves the control api. Exported fields come from the config file.
type Server struct {
	Addr string

	core   *openflite.Core
	hub    *hub
	logger *log.Logger
	server *http.Server
}

func (s *Server) setup(core *openflite.Core) {
	if s.Addr == "" {
		s.Addr = defaultListenAddr
	}

	s.core = core
	s.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "api"})
	s.hub = newHub(s.logger)
}

// Run serves the control api until the context is cancelled.
func (s *Server) Run(ctx context.Context, core *openflite.Core) error {
	s.setup(core)

	httpTimeout := httpTimeoutsMs * time.Millisecond
	s.server = &http.Server{
		Addr:              s.Addr,
		Handler:           s.routes(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	go s.hub.run()
	go s.forwardEvents(ctx, s.core.Subscribe())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.server.ListenAndServe()
	}()

	s.logger.Info("control api listening", "addr", s.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "api server shutdown failed")
		}
		return ctx.Err()
	case err := <-serverErr:
		return errors.Wrap(err, "api server failed")
	}
}

func (s *Server) routes() http.Handler {
	router := httprouter.New()

	router.GET("/status", s.handleStatus)
	router.GET("/devices", s.handleDevices)
	router.GET("/variables", s.handleVariables)
	router.GET("/simvars", s.handleVariables)

	router.POST("/simvar", s.handleWriteVariable)
	router.POST("/command", s.handleCommand)
	router.POST("/scan", s.handleScan)
	router.POST("/sim/connect", s.handleSimConnect)
	router.POST("/sim/disconnect", s.handleSimDisconnect)
	router.POST("/project", s.handleProject)
	router.POST("/inject", s.handleInject)

	router.GET("/events", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.hub.serveWs(w, r)
	})

	return router
}

// forwardEvents relays bridge lifecycle events to websocket subscribers.
func (s *Server) forwardEvents(ctx context.Context, events <-chan openflite.Event) {
	defer s.core.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			s.hub.publish(payload)
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	type statusReport struct {
		Simulator string `json:"simulator"`
		Connected bool   `json:"connected"`
		Devices   int    `json:"devices"`
	}

	sim := s.core.SimName()

	writeJSON(w, statusReport{
		Simulator: sim,
		Connected: sim != "",
		Devices:   len(s.core.Devices()),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	labels := s.core.Devices()
	if labels == nil {
		labels = []string{}
	}

	writeJSON(w, labels)
}

func (s *Server) handleVariables(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, s.core.Variables())
}

func (s *Server) handleWriteVariable(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	type simvarWrite struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}

	var payload simvarWrite
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed simvar payload", http.StatusBadRequest)
		return
	}
	if payload.Name == "" {
		http.Error(w, "missing variable name", http.StatusBadRequest)
		return
	}

	if err := s.core.WriteVariable(payload.Name, payload.Value); err != nil {
		s.writeError(w, err)
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	type commandTrigger struct {
		Event string `json:"event"`
	}

	var payload commandTrigger
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed command payload", http.StatusBadRequest)
		return
	}
	if payload.Event == "" {
		http.Error(w, "missing command event", http.StatusBadRequest)
		return
	}

	if err := s.core.ExecuteCommand(payload.Event); err != nil {
		s.writeError(w, err)
	}
}

func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.core.Scan()

	labels := s.core.Devices()
	if labels == nil {
		labels = []string{}
	}

	writeJSON(w, labels)
}

func (s *Server) handleSimConnect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	type connectRequest struct {
		Type    string `json:"type"`
		Address string `json:"address"`
	}

	var payload connectRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed connect payload", http.StatusBadRequest)
		return
	}

	client, err := connect.New(payload.Type, payload.Address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.core.SetSimClient(client); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleSimDisconnect(_ http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.core.DisconnectSim()
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	content, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read project body", http.StatusBadRequest)
		return
	}

	if err := s.core.LoadProject(content); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	type injectRequest struct {
		Device string `json:"device"`
		Line   string `json:"line"`
	}

	var payload injectRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed inject payload", http.StatusBadRequest)
		return
	}
	if payload.Device == "" {
		http.Error(w, "missing device label", http.StatusBadRequest)
		return
	}

	resp := protocol.ParseResponse(payload.Line)
	if resp == nil {
		http.Error(w, "unparsable input line", http.StatusBadRequest)
		return
	}

	s.core.InjectResponse(payload.Device, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, connect.ErrNotConnected) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug("api response encoding failed", "err", err)
	}
}
