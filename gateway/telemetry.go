package gateway

import (
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/notnil/canguard/safety"
)

// Telemetry is the per-tick status record written with WithTelemetry. The
// stream is a sequence of CBOR items and can be read back with
// cbor.NewDecoder.
type Telemetry struct {
	Session          string          `cbor:"session"`
	Time             time.Time       `cbor:"time"`
	Mode             string          `cbor:"mode"`
	Param            uint16          `cbor:"param"`
	ControlsAllowed  bool            `cbor:"controls_allowed"`
	RelayMalfunction bool            `cbor:"relay_malfunction"`
	Lagging          []string        `cbor:"lagging,omitempty"`
	Vehicle          safety.Snapshot `cbor:"vehicle"`
	Stats            Stats           `cbor:"stats"`
}

var telemetryEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type telemetryWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

func newTelemetryWriter(w io.Writer) *telemetryWriter {
	return &telemetryWriter{enc: telemetryEncMode.NewEncoder(w)}
}

func (t *telemetryWriter) write(rec Telemetry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(rec)
}

func (g *Gateway) telemetry(now time.Time) Telemetry {
	name, param := g.sup.Mode()
	return Telemetry{
		Session:          g.session.String(),
		Time:             now.UTC(),
		Mode:             name,
		Param:            param,
		ControlsAllowed:  g.sup.ControlsAllowed(),
		RelayMalfunction: g.sup.RelayMalfunction(),
		Lagging:          g.sup.Lagging(),
		Vehicle:          g.sup.Snapshot(),
		Stats:            g.Stats(),
	}
}

// ReadTelemetry decodes every record in r.
func ReadTelemetry(r io.Reader) ([]Telemetry, error) {
	dec := cbor.NewDecoder(r)
	var out []Telemetry
	for {
		var rec Telemetry
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
}
