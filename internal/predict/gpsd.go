package predict

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Location is a ground station position.
type Location struct {
	Lat float64 `json:"lat"` // degrees North
	Lon float64 `json:"lon"` // degrees East
	Alt float64 `json:"alt"` // meters above sea level
}

// tpv is the part of a gpsd TPV report we read.
type tpv struct {
	Class string  `json:"class"`
	Mode  int     `json:"mode"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"altMSL"`
}

var errNoFix = errors.New("gpsd: no 2D/3D fix")

// LocationFromGPSD asks gpsd at addr to stream reports and returns the first
// position with at least a 2D fix. ctx bounds the whole exchange.
func LocationFromGPSD(ctx context.Context, addr string) (Location, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Location{}, fmt.Errorf("gpsd connect: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			return Location{}, fmt.Errorf("gpsd set deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := fmt.Fprint(conn, `?WATCH={"enable":true,"json":true};`); err != nil {
		return Location{}, fmt.Errorf("gpsd watch: %w", err)
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var r tpv
		if json.Unmarshal(sc.Bytes(), &r) != nil || r.Class != "TPV" {
			continue
		}
		if r.Mode >= 2 {
			return Location{Lat: r.Lat, Lon: r.Lon, Alt: r.Alt}, nil
		}
	}
	if err := sc.Err(); err != nil {
		return Location{}, fmt.Errorf("gpsd read: %w", err)
	}
	return Location{}, errNoFix
}
