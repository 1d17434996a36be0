package main

import (
	"errors"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

type registerWriter interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// exporter writes one holding register per device, in device order. Fault
// codes are written as-is so the reader sees the same sentinels as Read.
type exporter struct {
	w      registerWriter
	unitID uint8
	addr   uint16
}

func (x *exporter) publish(codes []int16) error {
	regs := make([]uint16, len(codes))
	for i, c := range codes {
		regs[i] = uint16(c)
	}
	return x.w.WriteRegisters(x.unitID, x.addr, regs)
}

// modbusClient is a single Modbus TCP connection.
type modbusClient struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func dialModbus(endpoint string, timeout time.Duration) (*modbusClient, error) {
	if endpoint == "" {
		return nil, errors.New("modbus: endpoint required")
	}

	h := modbus.NewTCPClientHandler(endpoint)
	h.Timeout = timeout

	if err := h.Connect(); err != nil {
		return nil, err
	}

	return &modbusClient{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

func (c *modbusClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

func (c *modbusClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unitID
	_, err := c.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
	return err
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
