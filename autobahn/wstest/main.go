// wstest is used to test bidigo's [WebSocket client implementation]
// against the [Autobahn Testsuite].
//
// [WebSocket client implementation]: https://pkg.go.dev/github.com/tzrikka/bidigo/internal/wsconn
// [Autobahn Testsuite]: https://github.com/crossbario/autobahn-testsuite
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tzrikka/bidigo/internal/wsconn"
)

const (
	base  = "ws://127.0.0.1:9001"
	agent = "bidigo"
)

func main() {
	initZeroLog()

	n := getCaseCount()
	log.Logger.Info().Int("n", n).Msg("case count")

	// Not implemented (so excluded in "config/fuzzingserver.json"):
	// - 6.4.*: Fail-fast on invalid UTF-8 frames
	// - 12.* and 13.*: WebSocket compression
	for i := range n {
		runCase(i + 1)
	}

	updateReports()
}

func initZeroLog() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05.000",
	}).With().Caller().Logger()
}

func getCaseCount() (n int) {
	url := base + "/getCaseCount"
	conn, err := wsconn.Dial(log.Logger.WithContext(context.Background()), url)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("wsconn.Dial error")
	}

	frame, ok := <-conn.Incoming()
	if !ok {
		log.Logger.Debug().Msg("connection closed")
		return
	}

	n, err = strconv.Atoi(string(frame.Data))
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("invalid test case count")
		return
	}

	return
}

func runCase(i int) {
	log.Logger.Info().Int("case", i).Msg("starting test")

	url := fmt.Sprintf("%s/runCase?case=%d&agent=%s", base, i, agent)
	conn, err := wsconn.Dial(log.Logger.WithContext(context.Background()), url)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("wsconn.Dial error")
	}

	// Echo loop.
	for {
		frame, ok := <-conn.Incoming()
		if !ok {
			log.Logger.Debug().Int("case", i).Msg("connection closed")
			break
		}

		log.Logger.Info().Int("case", i).Str("opcode", frame.Opcode.String()).
			Int("length", len(frame.Data)).Msg("received message")

		switch frame.Opcode {
		case wsconn.OpcodeText:
			err = <-conn.SendText(frame.Data)
		case wsconn.OpcodeBinary:
			err = <-conn.SendBinary(frame.Data)
		default:
			log.Logger.Fatal().Str("opcode", frame.Opcode.String()).
				Msg("unexpected opcode in data message")
		}

		if err != nil {
			log.Logger.Err(err).Int("case", i).Str("opcode", frame.Opcode.String()).Msg("echo error")
			conn.Close(wsconn.StatusNormalClosure)
		}
	}
}

func updateReports() {
	log.Logger.Info().Msg("updating reports")

	url := fmt.Sprintf("%s/updateReports?agent=%s", base, agent)
	conn, err := wsconn.Dial(log.Logger.WithContext(context.Background()), url)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("wsconn.Dial error")
	}

	frame, ok := <-conn.Incoming()
	if !ok || frame.Data == nil {
		log.Logger.Debug().Msg("connection closed")
	}
}
