// Command pdgen publishes a comId cyclically with a counting pattern
// payload, the sending counterpart of pdcat.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/trdp"
	"github.com/saelay/trdpstack/internal/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		comID    = flag.Uint("comid", 0, "comId to publish (required)")
		ownIP    = flag.String("own-ip", "", "interface address")
		dstIP    = flag.String("dst", "", "destination address (required)")
		port     = flag.Int("port", int(trdp.DefaultPDPort), "process data UDP port")
		interval = flag.Duration("interval", 100*time.Millisecond, "publish cycle")
		size     = flag.Int("size", 16, "payload size in octets")
	)
	flag.Parse()

	if *comID == 0 || *dstIP == "" {
		return fmt.Errorf("-comid and -dst are required")
	}
	if *size < 8 || *size > wire.MaxPDDataSize {
		return fmt.Errorf("-size out of range (8..%d)", wire.MaxPDDataSize)
	}

	own, err := wire.ParseIP(*ownIP)
	if err != nil {
		return err
	}
	dst, err := wire.ParseIP(*dstIP)
	if err != nil {
		return err
	}

	if err := trdp.Init(nil); err != nil {
		return err
	}
	defer func() { _ = trdp.Terminate() }()

	session, err := trdp.OpenSession(trdp.SessionConfig{
		OwnIP: own,
		PD:    trdp.PDConfig{Port: uint16(*port)},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	payload := make([]byte, *size)
	pub, err := session.Publish(trdp.PubDesc{
		ComID:    uint32(*comID),
		DstIP:    dst,
		Interval: *interval,
		Data:     payload,
	})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var counter uint64
	nextUpdate := time.Now()

	for {
		select {
		case <-sig:
			return nil
		default:
		}
		// Refresh the pattern once per cycle so subscribers see the
		// payload change.
		if !time.Now().Before(nextUpdate) {
			counter++
			binary.BigEndian.PutUint64(payload, counter)
			if err := session.Put(pub, payload); err != nil {
				return err
			}
			nextUpdate = time.Now().Add(*interval)
		}

		wait, fds, err := session.GetInterval()
		if err != nil {
			return err
		}
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		ready, err := sockets.Select(fds, wait)
		if err != nil {
			return err
		}
		if err := session.Process(ready); err != nil {
			return err
		}
	}
}
