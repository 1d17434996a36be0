package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/mikesmitty/max6675"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

func main() {
	cfgPath := flag.String("config", "max6675.yaml", "Path to the YAML config file")
	bus := flag.String("bus", "", "Name of the bus, overrides the config file")
	verbose := flag.Bool("v", false, "Log faults with structured details")
	flag.Parse()

	cfg, err := Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *bus != "" {
		cfg.Bus = *bus
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	sb, err := spireg.Open(cfg.Bus)
	if err != nil {
		log.Fatal(err)
	}
	defer sb.Close()

	cs := make([]gpio.PinOut, len(cfg.SelectPins))
	for i, name := range cfg.SelectPins {
		p := gpioreg.ByName(name)
		if p == nil {
			log.Fatalf("unknown select pin %q", name)
		}
		cs[i] = p
	}

	opts := cfg.Options()
	if *verbose {
		opts.Logger = slog.Default()
	}

	dev, err := max6675.New(sb, cs, opts)
	if err != nil {
		log.Fatal(err)
	}
	if err := dev.Start(); err != nil {
		log.Fatal(err)
	}

	var exp *exporter
	if cfg.Modbus.Endpoint != "" {
		mc, err := dialModbus(cfg.Modbus.Endpoint, cfg.Modbus.Timeout)
		if err != nil {
			log.Fatalf("modbus connect failed: %v", err)
		}
		defer mc.Close()
		exp = &exporter{w: mc, unitID: cfg.Modbus.UnitID, addr: cfg.Modbus.Address}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	codes := make([]int16, max6675.MaxDevices)
	for {
		for i := range codes {
			d := max6675.Device(i)
			v, err := dev.Read(d)
			codes[i] = v
			if err != nil {
				log.Print(err)
				continue
			}
			log.Printf("Temperature %d: %.2f", i, float64(v)/4)
		}

		if exp != nil {
			if err := exp.publish(codes); err != nil {
				log.Printf("modbus write failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
