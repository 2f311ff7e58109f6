package data

// Type is a named, numerically identified data shape. The registry that
// creates a Type assigns its ID; predefined types occupy the reserved
// high range (see the Predefined* constants below), matching the
// afb-type-predefined.h ID space from the project this module continues.
type Type struct {
	name       string
	id         uint16
	streamable bool
}

// Name returns the type's unique name.
func (t *Type) Name() string { return t.name }

// ID returns the type's registry-assigned numeric ID.
func (t *Type) ID() uint16 { return t.id }

// Streamable reports whether the type may be serialized over the wire.
func (t *Type) Streamable() bool { return t.streamable }

// Reserved predefined type IDs, fixed within every data.Registry. They
// are not sent on the wire: the RPC layer uses its own rpcproto TypeIDs,
// mapped by type name.
const (
	PredefinedOpaque    uint16 = 0xfff1
	PredefinedByteArray uint16 = 0xfff2
	PredefinedStringZ   uint16 = 0xfff3
	PredefinedJSON      uint16 = 0xfff4
	PredefinedJSONC     uint16 = 0xfff5
	PredefinedBool      uint16 = 0xfff6
	PredefinedI8        uint16 = 0xfff7
	PredefinedU8        uint16 = 0xfff8
	PredefinedI16       uint16 = 0xfff9
	PredefinedU16       uint16 = 0xfffa
	PredefinedI32       uint16 = 0xfffb
	PredefinedU32       uint16 = 0xfffc
	PredefinedI64       uint16 = 0xfffd
	PredefinedU64       uint16 = 0xfffe
	PredefinedFloat     uint16 = 0xffe1
	PredefinedDouble    uint16 = 0xffe2
	PredefinedUUID      uint16 = 0xffe3

	// FirstUserTypeID is the first ID handed to a user-registered type;
	// everything from here up to the predefined range is available.
	FirstUserTypeID uint16 = 1
	lastReservedID  uint16 = 0xffe0
)

// predefinedNames lists every reserved type, registered eagerly by
// NewRegistry so lookups by name always succeed for them.
var predefinedNames = []struct {
	name       string
	id         uint16
	streamable bool
}{
	{"opaque", PredefinedOpaque, false},
	{"bytearray", PredefinedByteArray, true},
	{"stringz", PredefinedStringZ, true},
	{"json", PredefinedJSON, true},
	{"json_c", PredefinedJSONC, true},
	{"bool", PredefinedBool, true},
	{"i8", PredefinedI8, true},
	{"u8", PredefinedU8, true},
	{"i16", PredefinedI16, true},
	{"u16", PredefinedU16, true},
	{"i32", PredefinedI32, true},
	{"u32", PredefinedU32, true},
	{"i64", PredefinedI64, true},
	{"u64", PredefinedU64, true},
	{"float", PredefinedFloat, true},
	{"double", PredefinedDouble, true},
	{"uuid", PredefinedUUID, true},
}
