package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"voxelsync.dev/internal/client"
	"voxelsync.dev/internal/sim/player"
	"voxelsync.dev/internal/sim/tuning"
	"voxelsync.dev/internal/transport"
	"voxelsync.dev/internal/transport/udp"
	"voxelsync.dev/internal/transport/ws"
)

func main() {
	var (
		udpAddr    = flag.String("udp", "127.0.0.1:7777", "server udp address")
		url        = flag.String("url", "", "server ws url, e.g. ws://localhost:8080/v1/ws (overrides -udp)")
		name       = flag.String("name", "bot", "player name")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning.yaml shared with the server")
		seed       = flag.Int64("seed", 0, "input seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Printf("load tuning: %v; using defaults", err)
		tune = tuning.Defaults()
	}

	var conn transport.Conn
	if *url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, err = ws.Dial(ctx, *url, tune.Net.IngressQueue)
		cancel()
	} else {
		conn, err = udp.Dial(*udpAddr, udp.Options{Queue: tune.Net.IngressQueue, Logger: logger})
	}
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c := client.New(conn, "", client.Config{Name: *name, Tuning: tune, Logger: logger})
	if err := c.Join(); err != nil {
		logger.Fatalf("join: %v", err)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(*seed))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	ticker := time.NewTicker(time.Second / time.Duration(tune.TickRateHz))
	defer ticker.Stop()

	report := tune.TickRateHz * 5
	var (
		in       client.Input
		holdFor  int
		ticks    int
		wasReady bool
	)
	for {
		select {
		case <-stop:
			_ = c.Disconnect()
			return
		case <-ticker.C:
		}

		if holdFor <= 0 {
			in, holdFor = randomInput(r), tune.TickRateHz/2+r.Intn(tune.TickRateHz*2)
		}
		holdFor--
		if err := c.Tick(in); err != nil {
			logger.Printf("tick: %v", err)
		}

		if c.Ready() && !wasReady {
			wasReady = true
			hs := c.Handshake()
			logger.Printf("ready id=%d dims=%v tick=%d", c.ID(), hs.GridDims, c.CurrentTick())
		}
		ticks++
		if ticks%report == 0 {
			st := c.Stats()
			body := c.Body()
			logger.Printf("tick=%d mode=%s cycle=%d pos=%.1f snapshots=%d missed=%d corrections=%d reverted=%d players=%d",
				c.CurrentTick(), c.Mode(), c.LastCycle(), body.Position, st.Snapshots, st.MissedCycles, st.Corrections, st.Reverted, len(c.Players()))
		}
	}
}

// randomInput walks around, turns and now and then reshapes the terrain.
func randomInput(r *rand.Rand) client.Input {
	var in client.Input
	switch r.Intn(4) {
	case 0:
		in.Actions |= player.ActForward
	case 1:
		in.Actions |= player.ActForward | player.ActLeft
	case 2:
		in.Actions |= player.ActForward | player.ActRight
	}
	if r.Intn(5) == 0 {
		in.Actions |= player.ActJump
	}
	switch r.Intn(6) {
	case 0:
		in.Actions |= player.ActDig
	case 1:
		in.Actions |= player.ActBuild
	}
	in.MouseDX = float32(r.Intn(7) - 3)
	in.MouseDY = float32(r.Intn(3) - 1)
	return in
}
