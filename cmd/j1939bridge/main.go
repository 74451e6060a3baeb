package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	j1939 "github.com/aldas/go-j1939-client"
	"github.com/aldas/go-j1939-client/socketcan"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

func main() {
	ifName := flag.String("device", "can0", "SocketCAN interface name")
	serialAddr := flag.String("serial", "", "read command lines from this serial port instead of STDIN")
	baudRate := flag.Int("baud", 115200, "serial port baud rate")
	sourceRaw := flag.String("source", "0x32", "our J1939 source address")
	verbose := flag.Bool("v", false, "log protocol warnings to STDERR")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, err := parseSource(*sourceRaw)
	if err != nil {
		log.Fatalf("invalid source address: %v\n", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if *verbose {
		logger.SetOutput(os.Stderr)
	}

	transceiver, err := socketcan.NewTransceiver(*ifName)
	if err != nil {
		log.Fatal(err)
	}
	defer transceiver.Close()

	controller := j1939.NewControllerWithConfig(
		transceiver,
		j1939.NewRecordWriter(os.Stdout),
		j1939.Config{
			SourceAddress: source,
			Logger:        logger,
		},
	)

	if err := controller.Initialize(500); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("# Starting to read device: %v\n", *ifName)
	go func() {
		if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Printf("# Receive task ended with error: %v\n", err)
		}
	}()

	requests := make(chan j1939.SendRequest, 16)
	go func() {
		if err := controller.RunSender(ctx, requests); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Printf("# Transmit task ended with error: %v\n", err)
		}
	}()

	var commands io.Reader = os.Stdin
	if *serialAddr != "" {
		port, err := serial.OpenPort(&serial.Config{
			Name:        *serialAddr,
			Baud:        *baudRate,
			ReadTimeout: 100 * time.Millisecond,
			Size:        8,
		})
		if err != nil {
			log.Fatal(err)
		}
		defer port.Close()
		commands = port
		fmt.Printf("# Reading commands from: %v\n", *serialAddr)
	}

	go handleCommands(commands, requests)

	<-ctx.Done()
	fmt.Printf("# Finishing\n")
}

// handleCommands reads command lines and queues them for transmission.
// Format is `[pgn_index,]message` where pgn_index 1-3 selects the PGN:
// 1=peer to peer, 2=group broadcast, 3=extra (the default). The message
// bytes go out as a single frame when they fit 8 bytes and as a BAM burst
// otherwise.
func handleCommands(r io.Reader, requests chan<- j1939.SendRequest) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		pgn := j1939.PGNExtra
		if len(line) >= 3 && line[0] >= '1' && line[0] <= '3' && line[1] == ',' {
			switch line[0] {
			case '1':
				pgn = j1939.PGNPeerToPeer
			case '2':
				pgn = j1939.PGNGroupMessage
			case '3':
				pgn = j1939.PGNExtra
			}
			line = line[2:]
		}

		requests <- j1939.SendRequest{
			PGN:         pgn,
			Destination: j1939.AddressGlobal,
			Data:        []byte(line),
		}
	}
}

func parseSource(raw string) (uint8, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 8)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}
