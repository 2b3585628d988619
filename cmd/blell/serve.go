package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rigado/blell"
	"github.com/rigado/blell/config"
	"github.com/rigado/blell/hci/controller"
	"github.com/rigado/blell/hci/h4"
	"github.com/rigado/blell/hci/vhci"
	"github.com/rigado/blell/ll/sim"
	"github.com/rigado/blell/metrics"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

var serveCommand = cli.Command{
	Name:  "serve",
	Usage: "serve HCI over a transport, backed by a simulated radio",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "transport, t",
			Value: "vhci",
			Usage: "h4 or vhci",
		},
		cli.StringFlag{
			Name:  "port, p",
			Usage: "serial port for the h4 transport",
		},
		cli.IntFlag{
			Name:  "baud",
			Value: 1000000,
			Usage: "h4 baud rate",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "json configuration file",
		},
		cli.StringFlag{
			Name:  "metrics, m",
			Value: ":9102",
			Usage: "prometheus listen address, empty to disable",
		},
		cli.DurationFlag{
			Name:  "tick",
			Value: time.Millisecond,
			Usage: "simulated clock step",
		},
		cli.StringSliceFlag{
			Name:  "peer",
			Usage: "address of a simulated advertiser in range, may be repeated",
		},
	},
	Action: serve,
}

func loadOptions(fn string) ([]blell.Option, error) {
	if fn == "" {
		return nil, nil
	}
	cfg, err := config.New(fn).Load()
	if err != nil {
		return nil, err
	}
	return cfg.Options()
}

func openTransport(c *cli.Context) (controller.Transport, error) {
	switch t := c.String("transport"); t {
	case "h4":
		if c.String("port") == "" {
			return nil, errors.New("h4 transport needs --port")
		}
		opts := h4.DefaultOptions(c.String("port"))
		opts.BaudRate = uint(c.Int("baud"))
		return h4.Open(opts)
	case "vhci":
		v, err := vhci.Open()
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, errors.Errorf("unknown transport %q", t)
	}
}

// advertisers returns one simulated connectable advertiser per address.
func advertisers(addrs []string) ([]sim.Peer, error) {
	var out []sim.Peer
	for i, s := range addrs {
		a, err := blell.NewAddr(s)
		if err != nil {
			return nil, errors.Wrapf(err, "peer %v", s)
		}
		out = append(out, &sim.AdvertiserPeer{
			Addr:       a.LE(),
			Data:       []byte{0x02, 0x01, 0x06},
			IntervalUs: 100000,
			OffsetUs:   uint32(i) * 7000,
			RSSI:       -60,
		})
	}
	return out, nil
}

func serve(c *cli.Context) error {
	opts, err := loadOptions(c.String("config"))
	if err != nil {
		return err
	}
	peers, err := advertisers(c.StringSlice("peer"))
	if err != nil {
		return err
	}

	t, err := openTransport(c)
	if err != nil {
		return err
	}
	clock := sim.NewClock(0)
	h, err := controller.New(t, clock, sim.NewRadio(clock, peers...), opts...)
	if err != nil {
		t.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.Serve(ctx)
	})
	g.Go(func() error {
		if err := clock.Pace(ctx, c.Duration("tick")); err != context.Canceled {
			return err
		}
		return nil
	})

	if addr := c.String("metrics"); addr != "" {
		reg := prometheus.NewRegistry()
		metrics.RegisterCollector(h.Controller().Stats, reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return errors.Wrap(err, "metrics")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	blell.GetLogger().Infof("serving on %v", c.String("transport"))
	return g.Wait()
}
