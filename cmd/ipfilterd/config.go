package main

import (
	"github.com/mdouchement/ipfilter"
)

type (
	// A Configuration defines the daemon configuration.
	Configuration struct {
		Logger  string `yaml:"logger"`  // Log level.
		Metrics string `yaml:"metrics"` // Listen address of the metrics endpoint.

		Geodata GeodataConfiguration `yaml:"geodata"`

		Mode             ipfilter.Mode `yaml:"mode"`
		BlockedCountries []string      `yaml:"blocked_countries"`
		Blocked          []Entry       `yaml:"blocked"`

		Endpoints []string `yaml:"endpoints"` // Proxy DSNs.
	}

	// A GeodataConfiguration locates the source archive and the compacted
	// cache written after the first parse.
	GeodataConfiguration struct {
		Archive string `yaml:"archive"`
		Cache   string `yaml:"cache"`
	}

	// An Entry is a statically blocked address or CIDR network.
	Entry struct {
		Address string `yaml:"address"`
		Reason  string `yaml:"reason"`
		Date    string `yaml:"date"`
	}
)
