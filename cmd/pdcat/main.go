// Command pdcat subscribes to a comId and prints every received
// process data telegram, a minimal wire-level debugging tool.
package main

import (
	"encoding/hex"
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
		comID   = flag.Uint("comid", 0, "comId to subscribe to (required)")
		ownIP   = flag.String("own-ip", "", "interface address")
		dstIP   = flag.String("dst", "", "destination / multicast group to listen on")
		srcIP   = flag.String("src", "", "source filter (empty accepts any)")
		port    = flag.Int("port", int(trdp.DefaultPDPort), "process data UDP port")
		timeout = flag.Duration("timeout", time.Second, "subscription timeout")
	)
	flag.Parse()

	if *comID == 0 {
		return fmt.Errorf("-comid is required")
	}

	own, err := wire.ParseIP(*ownIP)
	if err != nil {
		return err
	}
	dst, err := wire.ParseIP(*dstIP)
	if err != nil {
		return err
	}
	src, err := wire.ParseIP(*srcIP)
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

	_, err = session.Subscribe(trdp.SubDesc{
		ComID:   uint32(*comID),
		SrcIP1:  src,
		DstIP:   dst,
		Flags:   trdp.FlagCallback,
		Timeout: *timeout,
		Callback: func(info trdp.PDInfo, data []byte) {
			if info.ResultCode != nil {
				fmt.Printf("comid=%d %v\n", info.ComID, info.ResultCode)
				return
			}
			fmt.Printf("comid=%d src=%s seq=%d len=%d\n%s",
				info.ComID, info.SrcIP, info.SeqCount, len(data), hex.Dump(data))
		},
	})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			return nil
		default:
		}
		wait, fds, err := session.GetInterval()
		if err != nil {
			return err
		}
		if wait > 250*time.Millisecond {
			wait = 250 * time.Millisecond
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
