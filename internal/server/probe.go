package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrAlreadyRunning is returned by probe when another NEXUS3 server already
// answers on the target address.
var ErrAlreadyRunning = errors.New("server: a NEXUS3 server is already running on this address")

// ErrPortHeld is returned by probe when something that is not a NEXUS3
// server is listening on the target address.
var ErrPortHeld = errors.New("server: the port is held by an unrelated service")

// healthzBody is the shape handleHealthz writes; probe uses the "service"
// field to distinguish a NEXUS3 server from an unrelated one.
type healthzBody struct {
	Service string `json:"service"`
}

// probe performs a lightweight check for an already-running server on addr
// before bind (spec §4.14). A connection refused means the port is free; a
// connection that answers but isn't recognizably NEXUS3's /healthz is
// reported as ErrPortHeld so the caller can distinguish "someone else is
// using this port" from "restart me, I'm already up".
func probe(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return nil
	}
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/healthz", addr), nil)
	if err != nil {
		return ErrPortHeld
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ErrPortHeld
	}
	defer resp.Body.Close()

	var body healthzBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Service != serviceName {
		return ErrPortHeld
	}
	return ErrAlreadyRunning
}
