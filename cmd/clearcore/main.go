// Command clearcore serves the configured ClearCore motors over HTTP, a
// websocket and a line-oriented control socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/multierr"

	"github.com/c-j-payne/ClearCore/clearcore"
	"github.com/c-j-payne/ClearCore/clearcore/simulator"
	"github.com/c-j-payne/ClearCore/internal/config"
	"github.com/c-j-payne/ClearCore/transport"
)

var (
	configFile = flag.String("config", "", "configuration file (default $CLEARCORE_CONFIG)")
	simulate   = flag.Bool("sim", false, "replace every serial port with a simulated controller")
	listPorts  = flag.Bool("list_ports", false, "print the serial ports on this machine and exit")
)

func openPort(ctx context.Context, name string, p config.SerialPort, cfg clearcore.MotorConfig) (clearcore.Transport, error) {
	switch {
	case *simulate || p.Simulator:
		sim, conn := simulator.New()
		sim.StepsPerRevolution = cfg.StepsPerRevolution
		go func() {
			if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("simulator %q: %v", name, err)
			}
		}()
		log.Printf("simulating %q", name)
		return transport.NewStream(ctx, conn, nil), nil
	case p.Address != "":
		t, err := transport.DialTCP(ctx, p.Address, nil)
		if err != nil {
			return nil, &clearcore.DependencyError{Name: name, Err: err}
		}
		return t, nil
	}
	return transport.OpenSerial(ctx, p.Path, p.Baud, nil), nil
}

func closeAll(drivers []*clearcore.Driver) error {
	var err error
	for _, d := range drivers {
		if cerr := d.Close(context.Background()); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("closing %q: %w", d.Name().ShortName(), cerr))
		}
	}
	return err
}

func main() {
	flag.Parse()

	if *listPorts {
		ports, err := transport.ListPorts()
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatal(err)
	}
	if *configFile == "" {
		*configFile = env.ConfigFile
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Ports outlive ctx so the drivers can run their shutdown sequence.
	portCtx, closePorts := context.WithCancel(context.Background())
	defer closePorts()

	s := NewServer()
	var drivers []*clearcore.Driver
	// One bus per port; every motor wired to it gets its own bus port.
	buses := make(map[string]*clearcore.Bus)
	for i, m := range cfg.Motors {
		mc, err := m.MotorConfig(fmt.Sprintf("motors[%d]", i))
		if err != nil {
			log.Fatal(err)
		}
		bus, ok := buses[m.Serial]
		if !ok {
			t, err := openPort(portCtx, m.Serial, cfg.SerialPorts[m.Serial], mc)
			if err != nil {
				log.Fatal(multierr.Append(err, closeAll(drivers)))
			}
			bus = clearcore.NewBus(t)
			buses[m.Serial] = bus
		}
		port, err := bus.Port(mc.MotorID)
		if err != nil {
			log.Fatal(multierr.Append(err, closeAll(drivers)))
		}
		d, err := clearcore.NewDriver(m.Name, mc, port, nil, s.StatusCallback(m.Name))
		if err != nil {
			log.Fatal(multierr.Append(err, closeAll(drivers)))
		}
		s.AddDriver(d)
		drivers = append(drivers, d)
		log.Printf("motor %q: id %d, %d steps/rev, max %v rpm", m.Name, mc.MotorID, mc.StepsPerRevolution, mc.MaxRPM)
	}

	if err := s.ListenCtl(ctx, env.CtlAddr); err != nil {
		log.Fatal(multierr.Append(err, closeAll(drivers)))
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/motors", s.MotorsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	srv := &http.Server{
		Handler:      r,
		Addr:         env.Addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Listening on %v", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Print(err)
	}
	// Close does not stop a motion in progress, so stop everything first.
	for _, d := range drivers {
		if err := d.Stop(context.Background(), nil); err != nil {
			log.Printf("stopping %q: %v", d.Name().ShortName(), err)
		}
	}
	if err := closeAll(drivers); err != nil {
		log.Fatal(err)
	}
}
