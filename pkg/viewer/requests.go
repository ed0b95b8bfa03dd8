package viewer

import (
	"context"
	"errors"
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"

	"volview/pkg/gpu"
	"volview/pkg/protocol"
	"volview/pkg/render"
	"volview/pkg/visualization"
)

const defaultBackground = "#0b1447"

// configFromInit derives the render config and environment from an init
// payload. Missing fields keep their defaults.
func configFromInit(body protocol.InitBody) (render.Config, gpu.Environment, error) {
	cfg := render.DefaultConfig()
	if body.RenderStyle != "" {
		style, err := render.ParseRenderStyle(body.RenderStyle)
		if err != nil {
			return cfg, gpu.Environment{}, err
		}
		cfg.Style = style
	}
	if body.Colormap != "" {
		cm, err := render.ParseColormap(body.Colormap)
		if err != nil {
			return cfg, gpu.Environment{}, err
		}
		cfg.Colormap = cm
	}
	if body.IsoThreshold != nil {
		cfg.IsoThreshold = float32(*body.IsoThreshold)
	}
	if body.GridUnit > 0 {
		cfg.GridUnit = float32(body.GridUnit)
	}
	cfg.GridSize = float32(max(body.GridSize, 0))
	cfg.ShowGrid = body.ShowGrid
	cfg.ShowAxes = body.ShowAxes
	if err := cfg.Validate(); err != nil {
		return cfg, gpu.Environment{}, err
	}

	hex := body.BackgroundColor
	if hex == "" {
		hex = defaultBackground
	}
	bg, err := colorful.Hex(hex)
	if err != nil {
		return cfg, gpu.Environment{}, fmt.Errorf("invalid background color %q: %w", hex, err)
	}
	r, g, b := bg.RGB255()
	env := gpu.Environment{
		Background: color.RGBA{R: r, G: g, B: b, A: 255},
		FogDensity: float32(max(body.FogDensity, 0)),
	}
	return cfg, env, nil
}

// answer responds to a host request. Failures are answered with an error
// body rather than dropped so the host callback always runs.
func (v *Viewer) answer(ctx context.Context, msg protocol.Message) {
	var (
		body any
		err  error
	)
	switch msg.Type {
	case protocol.TypeGetConfig:
		body = v.cfg
	case protocol.TypeSnapshot:
		body, err = v.snapshot()
	case protocol.TypeSlice:
		var req protocol.SliceRequest
		if err = msg.Decode(&req); err == nil {
			body, err = v.slice(req)
		}
	default:
		err = fmt.Errorf("unknown request %q", msg.Type)
	}
	if err != nil {
		v.logger.Debug("request failed", "type", msg.Type, "error", err)
		body = protocol.ErrorBody{Error: err.Error()}
	}

	resp, encErr := protocol.New(protocol.TypeResponse, body)
	if encErr != nil {
		resp = protocol.MustNew(protocol.TypeResponse, protocol.ErrorBody{Error: encErr.Error()})
	}
	v.send(ctx, resp.WithRequestID(*msg.RequestID))
}

func (v *Viewer) snapshot() (protocol.ImageBody, error) {
	if v.loop == nil {
		return protocol.ImageBody{}, errors.New("viewer not initialized")
	}
	if v.loop.Stats().Frames() == 0 {
		if err := v.loop.Frame(); err != nil {
			return protocol.ImageBody{}, err
		}
	}
	img := v.loop.Target().Color
	data, err := visualization.EncodePNG(img)
	if err != nil {
		return protocol.ImageBody{}, err
	}
	b := img.Bounds()
	return protocol.ImageBody{Width: b.Dx(), Height: b.Dy(), PNG: data}, nil
}

func (v *Viewer) slice(req protocol.SliceRequest) (protocol.ImageBody, error) {
	if v.buf == nil {
		return protocol.ImageBody{}, errors.New("no volume loaded")
	}
	axis, err := visualization.ParseAxis(req.Axis)
	if err != nil {
		return protocol.ImageBody{}, err
	}
	img, err := visualization.NewSlicer(v.buf).ExtractSlice(axis, req.Position)
	if err != nil {
		return protocol.ImageBody{}, err
	}
	data, err := visualization.EncodePNG(img)
	if err != nil {
		return protocol.ImageBody{}, err
	}
	b := img.Bounds()
	return protocol.ImageBody{Width: b.Dx(), Height: b.Dy(), PNG: data}, nil
}
