// Package daemon orchestrates trdpd startup, the session event loop
// and shutdown.
package daemon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saelay/trdpstack/internal/api"
	"github.com/saelay/trdpstack/internal/config"
	"github.com/saelay/trdpstack/internal/marshal"
	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/store"
	"github.com/saelay/trdpstack/internal/trdp"
	"github.com/saelay/trdpstack/internal/wire"
)

// Runner drives a trdpd instance.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run starts the daemon with the given configuration.
//
// Lifecycle:
//  1. Open the telegram directory and build the marshalling registry
//  2. Open the TRDP session, arm configured telegrams
//  3. Start the diagnostics API (if enabled)
//  4. Drive the GetInterval/select/Process loop until SIGINT/SIGTERM
//  5. Close the session and shut the API down
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open telegram directory: %w", err)
	}
	defer db.Close()

	registry, err := db.Registry()
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	session, err := r.openSession(cfg, registry)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := r.armTelegrams(cfg, session); err != nil {
		return err
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(cfg, r.logger, session, db)
		go func() {
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				if r.logger != nil {
					r.logger.Error("api server failed", "err", err)
				}
			}
		}()
		if r.logger != nil {
			r.logger.Info("api listening", "addr", apiServer.Addr())
		}
	}

	if r.logger != nil {
		r.logger.Info("trdpd running",
			"own_ip", cfg.Session.OwnIP,
			"pd_port", cfg.PD.Port,
			"md_udp_port", cfg.MD.UDPPort,
			"telegrams", len(cfg.Telegrams),
		)
	}

	err = r.loop(ctx, session)

	if apiServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiServer.Shutdown(shutdownCtx)
		stop()
	}
	return err
}

// loop is the cooperative event loop the stack is designed around.
func (r *Runner) loop(ctx context.Context, session *trdp.Session) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		wait, fds, err := session.GetInterval()
		if err != nil {
			return err
		}
		// Bound the wait so shutdown signals are observed promptly.
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

func (r *Runner) openSession(cfg *config.Config, registry *marshal.Registry) (*trdp.Session, error) {
	ownIP, err := wire.ParseIP(cfg.Session.OwnIP)
	if err != nil {
		return nil, fmt.Errorf("session.own_ip: %w", err)
	}
	leaderIP, err := wire.ParseIP(cfg.Session.LeaderIP)
	if err != nil {
		return nil, fmt.Errorf("session.leader_ip: %w", err)
	}

	if err := trdp.Init(r.logger); err != nil {
		return nil, err
	}

	var opts trdp.Options
	if cfg.Session.TrafficShaping {
		opts |= trdp.OptionTrafficShaping
	}

	toBehavior := trdp.TOSetToZero
	if cfg.PD.TOBehavior == "keep" {
		toBehavior = trdp.TOKeepLast
	}

	session, err := trdp.OpenSession(trdp.SessionConfig{
		OwnIP:    ownIP,
		LeaderIP: leaderIP,
		Registry: registry,
		Options:  opts,
		Logger:   r.logger,
		PD: trdp.PDConfig{
			Port:       uint16(cfg.PD.Port),
			QoS:        uint8(cfg.PD.QoS),
			TTL:        uint8(cfg.PD.TTL),
			Timeout:    config.Duration(cfg.PD.Timeout, trdp.DefaultPDTimeout),
			TOBehavior: toBehavior,
		},
		MD: trdp.MDConfig{
			UDPPort:        uint16(cfg.MD.UDPPort),
			TCPPort:        uint16(cfg.MD.TCPPort),
			ReplyTimeout:   config.Duration(cfg.MD.ReplyTimeout, trdp.DefaultReplyTimeout),
			ConfirmTimeout: config.Duration(cfg.MD.ConfirmTimeout, trdp.DefaultConfirmTimeout),
			ConnectTimeout: config.Duration(cfg.MD.ConnectTimeout, trdp.DefaultConnectTimeout),
			Retries:        uint32(cfg.MD.Retries),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := session.SetTopoCount(cfg.Session.ETBTopo, cfg.Session.OpTrnTopo); err != nil {
		_ = session.Close()
		return nil, err
	}
	return session, nil
}

// armTelegrams creates the statically configured publications and
// subscriptions.
func (r *Runner) armTelegrams(cfg *config.Config, session *trdp.Session) error {
	for i, tg := range cfg.Telegrams {
		switch tg.Direction {
		case "publish":
			dst, err := wire.ParseIP(tg.DestIP)
			if err != nil {
				return fmt.Errorf("telegrams[%d]: %w", i, err)
			}
			var payload []byte
			if tg.Payload != "" {
				payload, err = hex.DecodeString(tg.Payload)
				if err != nil {
					return fmt.Errorf("telegrams[%d]: invalid payload hex: %w", i, err)
				}
			}
			_, err = session.Publish(trdp.PubDesc{
				ComID:    tg.ComID,
				DstIP:    dst,
				Interval: config.Duration(tg.Interval, time.Second),
				Data:     payload,
			})
			if err != nil {
				return fmt.Errorf("telegrams[%d]: publish: %w", i, err)
			}

		case "subscribe":
			dst, err := wire.ParseIP(tg.DestIP)
			if err != nil {
				return fmt.Errorf("telegrams[%d]: %w", i, err)
			}
			src, err := wire.ParseIP(tg.SourceIP)
			if err != nil {
				return fmt.Errorf("telegrams[%d]: %w", i, err)
			}
			logger := r.logger
			comID := tg.ComID
			_, err = session.Subscribe(trdp.SubDesc{
				ComID:  comID,
				SrcIP1: src,
				DstIP:  dst,
				Flags:  trdp.FlagCallback,
				Callback: func(info trdp.PDInfo, data []byte) {
					if logger == nil {
						return
					}
					if info.ResultCode != nil {
						logger.Warn("pd event", "comid", info.ComID, "result", info.ResultCode.Error())
						return
					}
					logger.Debug("pd data",
						"comid", info.ComID,
						"src", info.SrcIP.String(),
						"seq", info.SeqCount,
						"bytes", len(data),
					)
				},
			})
			if err != nil {
				return fmt.Errorf("telegrams[%d]: subscribe: %w", i, err)
			}
		}
	}
	return nil
}
