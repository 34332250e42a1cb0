package domain

import "strings"

var datatypeAliases = map[string]Datatype{
	"int":      DatatypeInt16,
	"int16":    DatatypeInt16,
	"sint16":   DatatypeInt16,
	"integer":  DatatypeInt16,
	"short":    DatatypeInt16,
	"uint":     DatatypeUint16,
	"uint16":   DatatypeUint16,
	"word":     DatatypeUint16,
	"ushort":   DatatypeUint16,
	"int32":    DatatypeInt32,
	"sint32":   DatatypeInt32,
	"long":     DatatypeInt32,
	"dint":     DatatypeInt32,
	"uint32":   DatatypeUint32,
	"dword":    DatatypeUint32,
	"ulong":    DatatypeUint32,
	"udint":    DatatypeUint32,
	"float":    DatatypeFloat32,
	"float32":  DatatypeFloat32,
	"real":     DatatypeFloat32,
	"single":   DatatypeFloat32,
	"float64":  DatatypeFloat64,
	"double":   DatatypeFloat64,
	"lreal":    DatatypeFloat64,
	"string":   DatatypeString,
	"ascii":    DatatypeString,
	"char":     DatatypeString,
	"char[]":   DatatypeString,
	"bool":     DatatypeBool,
	"boolean":  DatatypeBool,
	"bit":      DatatypeBool,
	"coil":     DatatypeCoil,
	"discrete": DatatypeCoil,
}

// NormalizeDatatype maps a source spelling to its canonical datatype.
// Anything unrecognised becomes UNKNOWN.
func NormalizeDatatype(raw string) Datatype {
	key := strings.ToLower(strings.TrimSpace(raw))
	if dt, ok := datatypeAliases[key]; ok {
		return dt
	}
	for _, dt := range Datatypes {
		if strings.EqualFold(key, string(dt)) {
			return dt
		}
	}
	return DatatypeUnknown
}

// Known reports whether d is a canonical datatype other than UNKNOWN.
func (d Datatype) Known() bool {
	return d != DatatypeUnknown && NormalizeDatatype(string(d)) == d
}
