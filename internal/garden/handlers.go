package garden

import (
	"context"
	"encoding/json"

	"github.com/rapidaai/hootenanny/internal/broker"
	"github.com/rapidaai/hootenanny/internal/envelope"
	"github.com/rapidaai/hootenanny/internal/hoot"
)

// seekRequest/setTempoRequest/placeRegionRequest/moveRegionRequest/
// deleteRegionRequest are the JSON bodies decoded from each tool's Shell
// frame.
type seekRequest struct {
	Beat float64 `json:"beat"`
}

type setTempoRequest struct {
	BPM float64 `json:"bpm"`
}

type placeRegionRequest struct {
	Beat       float64 `json:"beat"`
	LengthBeat float64 `json:"length_beat"`
	SourceHash string  `json:"source_hash"`
}

type moveRegionRequest struct {
	ID   string  `json:"id"`
	Beat float64 `json:"beat"`
}

type deleteRegionRequest struct {
	ID string `json:"id"`
}

func jsonEnvelope(v interface{}) envelope.Envelope {
	body, err := hoot.EncodeJSON(v)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.NewInternalWithDetails("encoding response failed", err.Error()))
	}
	return envelope.Success(body)
}

// RegisterTools binds every Shell/Query tool this engine answers onto a
// broker.Server-shaped registrar, so main only needs to call
// garden.RegisterTools(server, engine) instead of listing each tool name
// at the call site.
func (e *Engine) RegisterTools(register func(service string, handler broker.ToolHandler)) {
	register("transport.play", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		return jsonEnvelope(e.Play())
	})
	register("transport.pause", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		return jsonEnvelope(e.Pause())
	})
	register("transport.stop", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		return jsonEnvelope(e.Stop())
	})
	register("transport.seek", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		var req seekRequest
		if err := hoot.DecodeJSON(frame.Body, &req); err != nil {
			return envelope.ErrorEnvelope(envelope.NewValidation("malformed_request", err.Error()))
		}
		return jsonEnvelope(e.Seek(req.Beat))
	})
	register("transport.set_tempo", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		var req setTempoRequest
		if err := hoot.DecodeJSON(frame.Body, &req); err != nil {
			return envelope.ErrorEnvelope(envelope.NewValidation("malformed_request", err.Error()))
		}
		state, err := e.SetTempo(req.BPM)
		if err != nil {
			return envelope.ErrorEnvelope(envelope.NewValidationField("invalid_bpm", err.Error(), "bpm"))
		}
		return jsonEnvelope(state)
	})
	register("transport.get_state", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		return jsonEnvelope(e.GetTransportState())
	})
	register("garden.place_region", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		var req placeRegionRequest
		if err := hoot.DecodeJSON(frame.Body, &req); err != nil {
			return envelope.ErrorEnvelope(envelope.NewValidation("malformed_request", err.Error()))
		}
		id := e.PlaceRegion(req.Beat, req.LengthBeat, req.SourceHash)
		return jsonEnvelope(map[string]string{"id": id})
	})
	register("garden.move_region", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		var req moveRegionRequest
		if err := hoot.DecodeJSON(frame.Body, &req); err != nil {
			return envelope.ErrorEnvelope(envelope.NewValidation("malformed_request", err.Error()))
		}
		if !e.MoveRegion(req.ID, req.Beat) {
			return envelope.ErrorEnvelope(envelope.NewNotFound("region", req.ID))
		}
		return envelope.Ack("region moved")
	})
	register("garden.delete_region", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		var req deleteRegionRequest
		if err := hoot.DecodeJSON(frame.Body, &req); err != nil {
			return envelope.ErrorEnvelope(envelope.NewValidation("malformed_request", err.Error()))
		}
		if !e.DeleteRegion(req.ID) {
			return envelope.ErrorEnvelope(envelope.NewNotFound("region", req.ID))
		}
		return envelope.Ack("region deleted")
	})
	register("garden.get_snapshot", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		snap, err := e.Snapshot(ctx)
		if err != nil {
			return envelope.ErrorEnvelope(envelope.FromErr(err))
		}
		return jsonEnvelope(snap)
	})
	register("garden.get_graph", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		nodes, edges, err := e.Graph(ctx)
		if err != nil {
			return envelope.ErrorEnvelope(envelope.FromErr(err))
		}
		return jsonEnvelope(map[string]interface{}{"nodes": nodes, "edges": edges})
	})
	register("garden.get_io_state", func(ctx context.Context, frame hoot.Frame) envelope.Envelope {
		outputs, inputs, devices, err := e.IOState(ctx)
		if err != nil {
			return envelope.ErrorEnvelope(envelope.FromErr(err))
		}
		return jsonEnvelope(map[string]interface{}{
			"outputs":      outputs,
			"inputs":       inputs,
			"midi_devices": devices,
		})
	})
}

// RegisterControls binds the admin-plane commands this engine answers
// (emergency_pause; "shutdown" itself is reserved by broker.Server) onto a
// broker.Server-shaped registrar.
func (e *Engine) RegisterControls(register func(command string, handler broker.ControlHandler)) {
	register("emergency_pause", func(ctx context.Context, payload json.RawMessage) envelope.Envelope {
		return jsonEnvelope(e.EmergencyPause())
	})
}
