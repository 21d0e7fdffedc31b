package testassets

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
)

// FBXNode describes a record for EncodeFBX. Props may hold int32, int64,
// float64, string, []float64, ZlibFloats and []int32 values.
type FBXNode struct {
	Name     string
	Props    []any
	Children []FBXNode
}

// ZlibFloats is encoded as a zlib-compressed double array.
type ZlibFloats []float64

// FBXMagic is the binary FBX file signature.
const FBXMagic = "Kaydara FBX Binary  \x00"

// EncodeFBX writes nodes as a version 7400 binary FBX file.
func EncodeFBX(nodes ...FBXNode) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(FBXMagic)
	buf.Write([]byte{0x1A, 0x00})
	binary.Write(buf, binary.LittleEndian, uint32(7400))
	for _, n := range nodes {
		writeFBXNode(buf, n)
	}
	buf.Write(make([]byte, 13))
	return buf.Bytes()
}

// Record offsets are absolute, so the header is patched once the node and
// its children are written.
func writeFBXNode(buf *bytes.Buffer, n FBXNode) {
	start := buf.Len()
	buf.Write(make([]byte, 12))
	buf.WriteByte(byte(len(n.Name)))
	buf.WriteString(n.Name)
	propStart := buf.Len()
	for _, p := range n.Props {
		writeFBXProp(buf, p)
	}
	propLen := buf.Len() - propStart
	if len(n.Children) > 0 {
		for _, c := range n.Children {
			writeFBXNode(buf, c)
		}
		buf.Write(make([]byte, 13))
	}
	b := buf.Bytes()
	binary.LittleEndian.PutUint32(b[start:], uint32(buf.Len()))
	binary.LittleEndian.PutUint32(b[start+4:], uint32(len(n.Props)))
	binary.LittleEndian.PutUint32(b[start+8:], uint32(propLen))
}

func writeFBXProp(buf *bytes.Buffer, p any) {
	switch v := p.(type) {
	case int64:
		buf.WriteByte('L')
		binary.Write(buf, binary.LittleEndian, v)
	case int32:
		buf.WriteByte('I')
		binary.Write(buf, binary.LittleEndian, v)
	case float64:
		buf.WriteByte('D')
		binary.Write(buf, binary.LittleEndian, v)
	case string:
		buf.WriteByte('S')
		binary.Write(buf, binary.LittleEndian, uint32(len(v)))
		buf.WriteString(v)
	case []float64:
		buf.WriteByte('d')
		binary.Write(buf, binary.LittleEndian, uint32(len(v)))
		binary.Write(buf, binary.LittleEndian, uint32(0))
		binary.Write(buf, binary.LittleEndian, uint32(len(v)*8))
		binary.Write(buf, binary.LittleEndian, v)
	case ZlibFloats:
		raw := new(bytes.Buffer)
		binary.Write(raw, binary.LittleEndian, []float64(v))
		packed := new(bytes.Buffer)
		zw := zlib.NewWriter(packed)
		zw.Write(raw.Bytes())
		zw.Close()
		buf.WriteByte('d')
		binary.Write(buf, binary.LittleEndian, uint32(len(v)))
		binary.Write(buf, binary.LittleEndian, uint32(1))
		binary.Write(buf, binary.LittleEndian, uint32(packed.Len()))
		buf.Write(packed.Bytes())
	case []int32:
		buf.WriteByte('i')
		binary.Write(buf, binary.LittleEndian, uint32(len(v)))
		binary.Write(buf, binary.LittleEndian, uint32(0))
		binary.Write(buf, binary.LittleEndian, uint32(len(v)*4))
		binary.Write(buf, binary.LittleEndian, v)
	default:
		panic("testassets: unsupported FBX property type")
	}
}
