package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
)

// Return codes of the control socket, after hamlib's RPRT convention.
const (
	rprtOK     = 0
	rprtFailed = -1
	rprtBadArg = -22
)

// ListenCtl serves the line-oriented control protocol on addr:
//
//	power <motor> <fraction>
//	go_for <motor> <rpm> <revolutions>
//	go_to <motor> <rpm> <revolutions>
//	stop <motor>
//	position <motor>
//	zero <motor>
//	status <motor>
//
// Every command is answered with "RPRT <code>".
func (s *Server) ListenCtl(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing control socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to accept: %v", err)
				}
				continue
			}
			go s.handleCtl(ctx, conn)
		}
	}()
	return nil
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func (s *Server) handleCtl(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		log.Printf("%v command: %q", conn.RemoteAddr(), fields)
		rprt := s.ctlCommand(ctx, conn, fields[0], fields[1:])
		fmt.Fprintf(conn, "RPRT %d\n", rprt)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}

// ctlCommand runs one command, writing any output lines to w.
func (s *Server) ctlCommand(ctx context.Context, w io.Writer, cmd string, args []string) int {
	if len(args) == 0 {
		return rprtBadArg
	}
	d, ok := s.drivers[args[0]]
	if !ok {
		return rprtBadArg
	}
	nums, err := parseFloats(args[1:])
	if err != nil {
		return rprtBadArg
	}
	wantArgs := map[string]int{
		"power": 1, "go_for": 2, "go_to": 2,
		"stop": 0, "position": 0, "zero": 0, "status": 0,
	}
	n, known := wantArgs[cmd]
	if !known || len(nums) != n {
		return rprtBadArg
	}

	switch cmd {
	case "power":
		err = d.SetPower(ctx, nums[0], nil)
	case "go_for":
		err = d.GoFor(ctx, nums[0], nums[1], nil)
	case "go_to":
		err = d.GoTo(ctx, nums[0], nums[1], nil)
	case "stop":
		err = d.Stop(ctx, nil)
	case "zero":
		err = d.ResetZeroPosition(ctx, 0, nil)
	case "position":
		var pos float64
		pos, err = d.Position(ctx, nil)
		if err == nil {
			fmt.Fprintf(w, "%.6f\n", pos)
		}
	case "status":
		st := d.Status()
		fmt.Fprintf(w, "Powered: %t\nMoving: %t\nPosition: %.6f\nSteps: %d\nRPM: %g\n",
			st.Powered, st.Moving, st.Position, st.PositionSteps, st.CurrentRPM)
	}
	if err != nil {
		log.Printf("%s %s: %v", cmd, args[0], err)
		return rprtFailed
	}
	return rprtOK
}
