package ir

import "fmt"

// Slot identifies a 32-bit varying slot. Values below SlotVar0 are system
// values, SlotVar0..SlotVar31 are generic varyings.
type Slot uint8

const (
	SlotPos Slot = iota
	SlotPointSize
	SlotClipDist0
	SlotClipDist1
	SlotCullDist0
	SlotCullDist1
	SlotClipVertex
	SlotLayer
	SlotViewport
	SlotEdge
	SlotPrimitiveShadingRate
	SlotPrimitiveID
	SlotPrimitiveIndices
	SlotCullPrimitive
)

// Generic varyings.
const (
	SlotVar0 Slot = 32 + iota
	SlotVar1
	SlotVar2
	SlotVar3
	SlotVar4
	SlotVar5
	SlotVar6
	SlotVar7
	SlotVar8
	SlotVar9
	SlotVar10
	SlotVar11
	SlotVar12
	SlotVar13
	SlotVar14
	SlotVar15
	SlotVar16
	SlotVar17
	SlotVar18
	SlotVar19
	SlotVar20
	SlotVar21
	SlotVar22
	SlotVar23
	SlotVar24
	SlotVar25
	SlotVar26
	SlotVar27
	SlotVar28
	SlotVar29
	SlotVar30
	SlotVar31
)

const (
	// NumSlots is the number of 32-bit slots.
	NumSlots = 64

	// NumSlots16 is the number of dedicated 16-bit slots (each has a low and a high half).
	NumSlots16 = 16
)

// Bit returns the slot's bit in an outputs-written mask.
func (s Slot) Bit() uint64 {
	return 1 << uint64(s)
}

// IsVarying reports whether the slot is a generic varying.
func (s Slot) IsVarying() bool {
	return s >= SlotVar0 && s <= SlotVar31
}

// IsSysval reports whether the slot is consumed by fixed-function hardware
// rather than (or in addition to) the next stage.
func (s Slot) IsSysval() bool {
	switch s {
	case SlotPos, SlotPointSize, SlotClipDist0, SlotClipDist1, SlotCullDist0, SlotCullDist1,
		SlotClipVertex, SlotEdge, SlotPrimitiveShadingRate, SlotPrimitiveIndices, SlotCullPrimitive,
		SlotLayer, SlotViewport:
		return true
	}
	return false
}

var slotNames = map[Slot]string{
	SlotPos:                  "POS",
	SlotPointSize:            "PSIZ",
	SlotClipDist0:            "CLIP_DIST0",
	SlotClipDist1:            "CLIP_DIST1",
	SlotCullDist0:            "CULL_DIST0",
	SlotCullDist1:            "CULL_DIST1",
	SlotClipVertex:           "CLIP_VERTEX",
	SlotLayer:                "LAYER",
	SlotViewport:             "VIEWPORT",
	SlotEdge:                 "EDGE",
	SlotPrimitiveShadingRate: "PRIMITIVE_SHADING_RATE",
	SlotPrimitiveID:          "PRIMITIVE_ID",
	SlotPrimitiveIndices:     "PRIMITIVE_INDICES",
	SlotCullPrimitive:        "CULL_PRIMITIVE",
}

// String returns the slot name.
func (s Slot) String() string {
	if n, ok := slotNames[s]; ok {
		return n
	}
	if s.IsVarying() {
		return fmt.Sprintf("VAR%d", s-SlotVar0)
	}
	return fmt.Sprintf("SLOT%d", uint8(s))
}

// Slot16 identifies a dedicated 16-bit varying slot.
type Slot16 uint8

// String returns the slot name.
func (s Slot16) String() string {
	return fmt.Sprintf("VAR%d_16BIT", uint8(s))
}
