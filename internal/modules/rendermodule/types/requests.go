package types

import (
	"fmt"
	"strings"
)

// SlotKind identifies which kind of logical unit a job occupies.
type SlotKind string

const (
	SlotStream      SlotKind = "stream"
	SlotLayerBlend  SlotKind = "layer-blend"
	SlotMasterBlend SlotKind = "master-blend"
)

// SlotKey identifies the unit of work that must remain singular. Stream is only
// set for SlotStream, Layer is zero for SlotMasterBlend.
type SlotKey struct {
	Kind   SlotKind `json:"kind"`
	Layer  int      `json:"layer"`
	Stream string   `json:"stream,omitempty"`
}

// StreamSlot returns the key for a stream render.
func StreamSlot(layer int, stream string) SlotKey {
	return SlotKey{Kind: SlotStream, Layer: layer, Stream: strings.ToUpper(stream)}
}

// LayerBlendSlot returns the key for a layer blend.
func LayerBlendSlot(layer int) SlotKey {
	return SlotKey{Kind: SlotLayerBlend, Layer: layer}
}

// MasterBlendSlot returns the singleton master blend key.
func MasterBlendSlot() SlotKey {
	return SlotKey{Kind: SlotMasterBlend}
}

// String renders the key in a stable, file-name safe form.
func (k SlotKey) String() string {
	switch k.Kind {
	case SlotStream:
		return fmt.Sprintf("layer%d_stream%s", k.Layer, k.Stream)
	case SlotLayerBlend:
		return fmt.Sprintf("layer%d_blend", k.Layer)
	default:
		return "master_blend"
	}
}

// RenderRequest asks for one stream of a layer to be rendered from a trimmed source clip.
type RenderRequest struct {
	Layer               int         `json:"layer"`
	Stream              string      `json:"stream"`
	SourcePath          string      `json:"sourcePath"`
	Adjustments         Adjustments `json:"adjustments"`
	TrimStartMs         int64       `json:"trimStartMs"`
	TrimEndMs           int64       `json:"trimEndMs"`
	SuggestedOutputPath string      `json:"suggestedOutputPath,omitempty"`
}

// Slot returns the slot this request occupies.
func (r RenderRequest) Slot() SlotKey {
	return StreamSlot(r.Layer, r.Stream)
}

// JobID is derived from the slot so repeated renders of the same stream share it.
func (r RenderRequest) JobID() string {
	return fmt.Sprintf("render-L%d-%s", r.Layer, strings.ToUpper(r.Stream))
}

// TrimDurationMs returns the length of the trimmed segment, or zero when the
// trim window is empty or open ended.
func (r RenderRequest) TrimDurationMs() int64 {
	if r.TrimEndMs <= r.TrimStartMs {
		return 0
	}
	return r.TrimEndMs - r.TrimStartMs
}

// BlendScope distinguishes layer blends from the master blend.
type BlendScope string

const (
	BlendScopeLayer  BlendScope = "layer"
	BlendScopeMaster BlendScope = "master"
)

// BlendRequest combines two previously rendered outputs.
type BlendRequest struct {
	Scope               BlendScope `json:"scope"`
	Layer               int        `json:"layer,omitempty"`
	InputA              string     `json:"inputA"`
	InputB              string     `json:"inputB"`
	Mode                BlendMode  `json:"mode"`
	Opacity             float64    `json:"opacity"`
	SuggestedOutputPath string     `json:"suggestedOutputPath,omitempty"`
}

// Slot returns the slot this request occupies.
func (r BlendRequest) Slot() SlotKey {
	if r.Scope == BlendScopeMaster {
		return MasterBlendSlot()
	}
	return LayerBlendSlot(r.Layer)
}

// JobID combines the slot and the blend mode.
func (r BlendRequest) JobID() string {
	if r.Scope == BlendScopeMaster {
		return fmt.Sprintf("master-%s", r.Mode.Normalize())
	}
	return fmt.Sprintf("blend-L%d-%s", r.Layer, r.Mode.Normalize())
}
