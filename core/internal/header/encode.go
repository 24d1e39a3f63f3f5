package header

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/meigma/asar/core/internal/asartype"
)

// Encode serializes the tree rooted at root. Offsets are written as they are
// stored on each entry; call AssignOffsets first when building a new archive.
func Encode(root *Entry) ([]byte, error) {
	if root == nil || !root.IsDir() {
		return nil, asartype.Malformed("header root must be a directory")
	}
	var buf bytes.Buffer
	if err := encodeEntry(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeEntry(buf *bytes.Buffer, e *Entry) error {
	switch e.Kind {
	case asartype.KindDirectory:
		buf.WriteString(`{"files":{`)
		for i, name := range e.Names() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, name); err != nil {
				return err
			}
			buf.WriteByte(':')
			child, _ := e.Child(name)
			if err := encodeEntry(buf, child); err != nil {
				return err
			}
		}
		buf.WriteString(`}}`)

	case asartype.KindLink:
		buf.WriteString(`{"link":`)
		if err := writeJSON(buf, e.Link); err != nil {
			return err
		}
		buf.WriteByte('}')

	case asartype.KindFile:
		buf.WriteString(`{"size":`)
		buf.WriteString(strconv.FormatUint(e.Size, 10))
		if e.Unpacked {
			buf.WriteString(`,"unpacked":true`)
		} else {
			buf.WriteString(`,"offset":"`)
			buf.WriteString(strconv.FormatUint(e.Offset, 10))
			buf.WriteByte('"')
		}
		if e.Executable {
			buf.WriteString(`,"executable":true`)
		}
		if e.Integrity != nil {
			buf.WriteString(`,"integrity":`)
			if err := writeJSON(buf, e.Integrity); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return asartype.Malformed("cannot encode entry of kind %s", e.Kind)
	}
	return nil
}

// writeJSON appends v without HTML escaping and without the trailing newline
// json.Encoder adds.
func writeJSON(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
