package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/mdouchement/ipfilter"
	"github.com/mdouchement/ipfilter/geodata"
	"github.com/mdouchement/ipfilter/proxy"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type controller struct {
	cfg     string
	config  Configuration
	ctx     context.Context
	geo     *ipfilter.GeoFilter
	ipv4    *ipfilter.IPFilter
	ipv6    *ipfilter.IPFilter
	proxies []proxy.Proxy

	allowed  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func main() {
	c := controller{
		allowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfilter",
			Name:      "allowed_total",
			Help:      "Total of allowed connections.",
		}, []string{"country"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfilter",
			Name:      "rejected_total",
			Help:      "Total of rejected connections.",
		}, []string{"country"}),
	}

	cmd := &cobra.Command{
		Use:   "ipfilterd",
		Short: "Starts the filtering proxy server",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			if c.cfg == "" {
				c.cfg = "ipfilterd.yml"
			}

			logr := logrus.New()
			logr.SetFormatter(&logger.LogrusTextFormatter{
				DisableColors:   false,
				ForceColors:     true,
				ForceFormatting: true,
				PrefixRE:        regexp.MustCompile(`^(\[.*?\])\s`),
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05",
			})
			log := logger.WrapLogrus(logr)
			c.ctx = logger.WithLogger(context.Background(), log)

			//

			log.Infof("Reading configuration from %s", c.cfg)
			payload, err := os.ReadFile(c.cfg)
			if err != nil {
				return errors.Wrapf(err, "could not read configuration file %s", c.cfg)
			}

			err = yaml.Unmarshal(payload, &c.config)
			if err != nil {
				return errors.Wrapf(err, "could not parse configuration file %s", c.cfg)
			}

			if c.config.Logger != "" {
				l, err := logrus.ParseLevel(c.config.Logger)
				if err != nil {
					return errors.Wrapf(err, "could not parse logger level %s", c.cfg)
				}
				logr.SetLevel(l)
			}

			if c.config.Metrics != "" {
				prometheus.Register(c.allowed)  //nolint:errcheck
				prometheus.Register(c.rejected) //nolint:errcheck

				go func() {
					log.Infof("Starting metrics endpoint on %s", c.config.Metrics)

					http.Handle("/metrics", promhttp.Handler())
					err := http.ListenAndServe(c.config.Metrics, nil)
					if err != nil {
						log.WithError(err).Error("Could not run metrics endpoint")
					}
				}()
			}

			if err := c.setup(); err != nil {
				return err
			}

			defer c.close()

			var wg sync.WaitGroup
			for _, p := range c.proxies {
				wg.Add(1)

				go func(p proxy.Proxy) {
					defer wg.Done()
					defer p.Close()

					p.Run()
				}(p)
			}

			wg.Wait()
			return nil
		},
	}
	cmd.Flags().StringVarP(&c.cfg, "config", "c", os.Getenv("IPFILTERD_CONFIG"), "Server's configuration")

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func (c *controller) setup() error {
	data, err := geodata.Open(c.ctx, c.config.Geodata.Archive, c.config.Geodata.Cache)
	if err != nil {
		return errors.Wrap(err, "geodata")
	}

	c.geo = ipfilter.NewGeoFilter(c.ctx, c.config.Mode, data)
	c.geo.SetBlockedCountries(c.config.BlockedCountries)

	c.ipv4 = ipfilter.NewIPv4Filter(c.config.Mode)
	c.ipv6 = ipfilter.NewIPv6Filter(c.config.Mode)

	for _, entry := range c.config.Blocked {
		if err := c.block(entry); err != nil {
			return err
		}
	}

	//

	c.proxies = make([]proxy.Proxy, len(c.config.Endpoints))
	for i, endpoint := range c.config.Endpoints {
		backends, err := proxy.ParseBackends(endpoint)
		if err != nil {
			return errors.Wrap(err, "backends")
		}

		c.proxies[i], err = proxy.NewTCPProxy(c.ctx, backends, c.decision)
		if err != nil {
			return errors.Wrap(err, "could not create proxy")
		}
	}

	return nil
}

// block routes a static entry to the filter matching its family.
func (c *controller) block(entry Entry) error {
	var target ipfilter.Target

	if strings.Contains(entry.Address, "/") {
		prefix, err := netip.ParsePrefix(entry.Address)
		if err != nil {
			return errors.Wrapf(err, "invalid blocked network %s", entry.Address)
		}
		target = ipfilter.Network(prefix)
	} else {
		addr, err := netip.ParseAddr(entry.Address)
		if err != nil {
			return errors.Wrapf(err, "invalid blocked address %s", entry.Address)
		}
		target = ipfilter.Address(addr)
	}

	f := c.ipv4
	if target.Family() == ipfilter.FamilyIPv6 {
		f = c.ipv6
	}
	return f.Block(target, entry.Reason, entry.Date)
}

// decision chains the raw filter of the client's family with the geo filter.
// The first filter that blocks wins; an evaluation error rejects.
func (c *controller) decision(ctx context.Context, addr netip.Addr) bool {
	log := logger.LogWith(ctx)

	var country string
	if location, ok := c.geo.Country(addr); ok {
		country = location.CountryISOCode
	}

	for _, f := range c.chain(addr) {
		blocked, err := f.Blocked(addr)
		if err != nil {
			log.WithError(err).Errorf("Could not evaluate %s", addr)
			c.rejected.WithLabelValues(country).Inc()
			return false
		}

		if blocked {
			log.Infof("%s from %s is blocked", addr, strings.ToUpper(country))
			c.rejected.WithLabelValues(country).Inc()
			return false
		}
	}

	c.allowed.WithLabelValues(country).Inc()
	return true
}

func (c *controller) chain(addr netip.Addr) []ipfilter.Filter {
	if ipfilter.FamilyOf(addr) == ipfilter.FamilyIPv4 {
		return []ipfilter.Filter{c.ipv4, c.geo}
	}
	return []ipfilter.Filter{c.ipv6}
}

func (c *controller) close() {
	for _, proxy := range c.proxies {
		if proxy != nil {
			proxy.Close()
		}
	}
}
