// Command replay feeds a recorded JSONL message stream through the engine
// synchronously and prints the session summary. Replays are deterministic:
// all debounce and timeout logic runs on frame timestamps, so the same
// recording always yields the same trials and scores.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kinetic-rehab/reach.report/internal/calib"
	"github.com/kinetic-rehab/reach.report/internal/config"
	"github.com/kinetic-rehab/reach.report/internal/engine"
	"github.com/kinetic-rehab/reach.report/internal/pose"
	"github.com/kinetic-rehab/reach.report/internal/session"
)

var (
	input      = flag.String("input", "", "Path to JSONL recording (required)")
	configPath = flag.String("config", "", "Path to tuning config JSON (default: built-in defaults)")
	side       = flag.String("side", "RIGHT", "Active reaching arm: LEFT or RIGHT")
	verbose    = flag.Bool("v", false, "Print every result snapshot")
)

// envelope mirrors the websocket wire format: flat payloads discriminated
// by the type field.
type envelope struct {
	Type string `json:"type"`
	pose.Frame
	calib.Patient
	Side pose.Side `json:"side,omitempty"`
}

func main() {
	flag.Parse()
	if *input == "" {
		log.Fatal("-input is required")
	}

	var cfg *config.TuningConfig
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	eng, err := engine.New(engine.ConfigFromTuning(cfg), pose.Side(*side))
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}
	sess := session.New(session.Config{
		MinValidReachCm:   cfg.GetMinValidReachCm(),
		Cooldown:          cfg.GetCooldown(),
		TrialsPerSession:  cfg.GetTrialsPerSession(),
		ReachFullCreditCm: cfg.GetReachFullCreditCm(),
	})

	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("failed to open recording: %v", err)
	}
	defer f.Close()

	frames, glitches := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg envelope
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Fatalf("line %d: %v", lineNo, err)
		}

		switch msg.Type {
		case "PROCESS":
			res := eng.Process(&msg.Frame)
			sess.Observe(res)
			frames++
			if res.Glitch {
				glitches++
			}
			if *verbose {
				out, _ := json.Marshal(res)
				fmt.Println(string(out))
			}
		case "CALIBRATE":
			if err := eng.Calibrate(msg.Patient); err != nil {
				log.Fatalf("line %d: calibrate: %v", lineNo, err)
			}
		case "SET_SIDE":
			if err := eng.SetSide(msg.Side); err != nil {
				log.Fatalf("line %d: set side: %v", lineNo, err)
			}
		case "RESET":
			eng.Reset()
			sess.Reset()
		default:
			log.Fatalf("line %d: unknown message type %q", lineNo, msg.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("failed to read recording: %v", err)
	}

	for i, a := range sess.History() {
		note := "clean"
		if a.Faulted {
			note = a.FaultReason
		}
		fmt.Printf("trial %d: reach=%.1fcm peak=%.1fcm/s score=%.0f (%s)\n",
			i+1, a.MaxReachCm, a.PeakVelocityCms, a.Score, note)
	}

	summary := sess.Summarize()
	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	fmt.Printf("frames=%d glitches=%d trials=%d complete=%v\n",
		frames, glitches, summary.Trials, summary.Complete)
}
