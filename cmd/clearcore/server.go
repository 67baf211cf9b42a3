package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/c-j-payne/ClearCore/clearcore"
)

type Server struct {
	drivers map[string]*clearcore.Driver
	names   []string

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     map[string]clearcore.Status
	frameNum   int
}

func NewServer() *Server {
	s := &Server{
		drivers: make(map[string]*clearcore.Driver),
		status:  make(map[string]clearcore.Status),
	}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

// AddDriver registers d. It must be called before serving.
func (s *Server) AddDriver(d *clearcore.Driver) {
	name := d.Name().ShortName()
	s.drivers[name] = d
	s.names = append(s.names, name)
	s.statusCallback(name, d.Status())
}

// StatusCallback returns the callback to hand to the driver named name.
func (s *Server) StatusCallback(name string) clearcore.StatusCallback {
	return func(status clearcore.Status) {
		s.statusCallback(name, status)
	}
}

func (s *Server) statusCallback(name string, status clearcore.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status[name] = status
	s.frameNum++
	s.statusCond.Broadcast()
}

func (s *Server) snapshot() (map[string]clearcore.Status, int) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.copyStatusLocked(), s.frameNum
}

func (s *Server) copyStatusLocked() map[string]clearcore.Status {
	out := make(map[string]clearcore.Status, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}

// next waits for a status change after frame and returns the new snapshot.
func (s *Server) next(ctx context.Context, frame int) (map[string]clearcore.Status, int) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	for s.frameNum <= frame && ctx.Err() == nil {
		s.statusCond.Wait()
	}
	return s.copyStatusLocked(), s.frameNum
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type motorInfo struct {
	Name               string  `json:"name"`
	MotorID            int     `json:"motor_id"`
	StepsPerRevolution int     `json:"steps_per_revolution"`
	MaxRPM             float64 `json:"max_rpm"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

func (s *Server) MotorsHandler(w http.ResponseWriter, r *http.Request) {
	var out []motorInfo
	for _, name := range s.names {
		cfg := s.drivers[name].Config()
		out = append(out, motorInfo{
			Name:               name,
			MotorID:            cfg.MotorID,
			StepsPerRevolution: cfg.StepsPerRevolution,
			MaxRPM:             cfg.MaxRPM,
		})
	}
	writeJSON(w, out)
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status, _ := s.snapshot()
	writeJSON(w, status)
}

type Command struct {
	Motor       string  `json:"motor"`
	Command     string  `json:"command"`
	Power       float64 `json:"power"`
	RPM         float64 `json:"rpm"`
	Revolutions float64 `json:"revolutions"`
	Offset      float64 `json:"offset"`
}

// run executes one command. Motions block until they finish.
func (s *Server) run(ctx context.Context, msg Command) error {
	d, ok := s.drivers[msg.Motor]
	if !ok {
		return fmt.Errorf("unknown motor %q", msg.Motor)
	}
	switch msg.Command {
	case "set_power":
		return d.SetPower(ctx, msg.Power, nil)
	case "go_for":
		return d.GoFor(ctx, msg.RPM, msg.Revolutions, nil)
	case "go_to":
		return d.GoTo(ctx, msg.RPM, msg.Revolutions, nil)
	case "stop":
		return d.Stop(ctx, nil)
	case "reset_zero_position":
		return d.ResetZeroPosition(ctx, msg.Offset, nil)
	case "get_position":
		_, err := d.Position(ctx, nil)
		return err
	}
	return fmt.Errorf("unknown command %q", msg.Command)
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		cancel()
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer func() {
			cancel()
			// Wake the sender so it sees ctx is done.
			s.statusMu.Lock()
			s.statusCond.Broadcast()
			s.statusMu.Unlock()
		}()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			// Motions outlive the socket; a later stop cancels them.
			go func() {
				if err := s.run(context.Background(), msg); err != nil {
					log.Printf("%s %s: %v", msg.Motor, msg.Command, err)
				}
			}()
		}
	}()

	send := func(status map[string]clearcore.Status) bool {
		data, err := json.Marshal(status)
		if err != nil {
			log.Print(err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Print(err)
			return false
		}
		return true
	}

	status, frame := s.snapshot()
	if !send(status) {
		cancel()
		return
	}
	for {
		status, frame = s.next(ctx, frame)
		if ctx.Err() != nil {
			return
		}
		if !send(status) {
			cancel()
			return
		}
	}
}
