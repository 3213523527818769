// Package resp implements the wire framing codec: the RESP value types, a
// streaming tokenizer that turns a byte buffer into zero or more parsed
// values, and the matching serializer. It also knows the one shape that
// breaks RESP's self-delimiting property: a bare `$len\r\n` header followed
// by exactly len raw bytes with no trailing terminator, used to ship an RDB
// snapshot inline on a replication connection.
package resp

import (
	"errors"
	"strconv"
)

// ErrSyntax is returned whenever the received bytes are not valid RESP:
// a non-numeric length header, a bulk string not terminated by CRLF, or a
// token not prefixed by one of the known sigils. A declared length that
// exceeds the buffer is not an error: the frame is treated as incomplete.
var ErrSyntax = errors.New("resp syntax error")

// Kind discriminates the five RESP value shapes.
type Kind int

const (
	SimpleString Kind = iota
	Error
	Integer
	Bulk
	Array
)

// Value is a parsed (or to-be-serialized) RESP value.
type Value struct {
	Kind      Kind
	Str       string  // SimpleString, Error
	Int       int64   // Integer
	Bulk      []byte  // Bulk; nil together with BulkNull means "$-1"
	BulkNull  bool    // Bulk only
	Array     []Value // Array; nil together with ArrayNull means "*-1"
	ArrayNull bool    // Array only
}

func SimpleStr(s string) Value { return Value{Kind: SimpleString, Str: s} }
func Err(s string) Value       { return Value{Kind: Error, Str: s} }
func Int(n int64) Value        { return Value{Kind: Integer, Int: n} }
func BulkStr(s string) Value   { return Value{Kind: Bulk, Bulk: []byte(s)} }
func BulkBytes(b []byte) Value { return Value{Kind: Bulk, Bulk: b} }
func NullBulk() Value          { return Value{Kind: Bulk, BulkNull: true} }
func Arr(items []Value) Value  { return Value{Kind: Array, Array: items} }
func NullArray() Value         { return Value{Kind: Array, ArrayNull: true} }

// StringArray builds an Array of Bulk strings, the shape every command and
// every replicated write frame takes on the wire.
func StringArray(parts ...string) Value {
	items := make([]Value, len(parts))
	for i, p := range parts {
		items[i] = BulkStr(p)
	}
	return Arr(items)
}

// Serialize renders v in wire form.
func Serialize(v Value) []byte {
	var buf []byte
	buf = appendValue(buf, v)
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case SimpleString:
		buf = append(buf, '+')
		buf = append(buf, v.Str...)
		buf = append(buf, '\r', '\n')
	case Error:
		buf = append(buf, '-')
		buf = append(buf, v.Str...)
		buf = append(buf, '\r', '\n')
	case Integer:
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, v.Int, 10)
		buf = append(buf, '\r', '\n')
	case Bulk:
		if v.BulkNull {
			return append(buf, '$', '-', '1', '\r', '\n')
		}
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(v.Bulk)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, v.Bulk...)
		buf = append(buf, '\r', '\n')
	case Array:
		if v.ArrayNull {
			return append(buf, '*', '-', '1', '\r', '\n')
		}
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(v.Array)), 10)
		buf = append(buf, '\r', '\n')
		for _, item := range v.Array {
			buf = appendValue(buf, item)
		}
	}
	return buf
}

// RawRDBFrame renders the replication-only shape: $len\r\n followed by the
// raw bytes with no trailing CRLF.
func RawRDBFrame(blob []byte) []byte {
	buf := append([]byte{'$'}, []byte(strconv.Itoa(len(blob)))...)
	buf = append(buf, '\r', '\n')
	buf = append(buf, blob...)
	return buf
}

// Parse greedily tokenizes buf left to right into complete RESP values,
// returning the values parsed, the number of bytes consumed, and any
// syntax error. A trailing partial frame is left unconsumed (n < len(buf))
// so the caller can re-present it once more bytes arrive.
func Parse(buf []byte) (values []Value, n int, err error) {
	pos := 0
	for pos < len(buf) {
		v, consumed, ok, perr := parseOne(buf[pos:])
		if perr != nil {
			return values, pos, perr
		}
		if !ok {
			break
		}
		values = append(values, v)
		pos += consumed
	}
	return values, pos, nil
}

func parseOne(buf []byte) (v Value, n int, ok bool, err error) {
	if len(buf) == 0 {
		return Value{}, 0, false, nil
	}
	switch buf[0] {
	case '+', '-', ':':
		line, lineLen, ok := readLine(buf[1:])
		if !ok {
			return Value{}, 0, false, nil
		}
		switch buf[0] {
		case '+':
			return SimpleStr(string(line)), 1 + lineLen, true, nil
		case '-':
			return Err(string(line)), 1 + lineLen, true, nil
		default:
			i, perr := strconv.ParseInt(string(line), 10, 64)
			if perr != nil {
				return Value{}, 0, false, ErrSyntax
			}
			return Int(i), 1 + lineLen, true, nil
		}
	case '$':
		return parseBulk(buf)
	case '*':
		return parseArray(buf)
	default:
		return Value{}, 0, false, ErrSyntax
	}
}

func parseBulk(buf []byte) (Value, int, bool, error) {
	line, lineLen, ok := readLine(buf[1:])
	if !ok {
		return Value{}, 0, false, nil
	}
	size, err := strconv.Atoi(string(line))
	if err != nil {
		return Value{}, 0, false, ErrSyntax
	}
	header := 1 + lineLen
	if size < 0 {
		return NullBulk(), header, true, nil
	}
	need := header + size + 2
	if len(buf) < need {
		return Value{}, 0, false, nil
	}
	if buf[header+size] != '\r' || buf[header+size+1] != '\n' {
		return Value{}, 0, false, ErrSyntax
	}
	data := make([]byte, size)
	copy(data, buf[header:header+size])
	return BulkBytes(data), need, true, nil
}

func parseArray(buf []byte) (Value, int, bool, error) {
	line, lineLen, ok := readLine(buf[1:])
	if !ok {
		return Value{}, 0, false, nil
	}
	count, err := strconv.Atoi(string(line))
	if err != nil {
		return Value{}, 0, false, ErrSyntax
	}
	pos := 1 + lineLen
	if count < 0 {
		return NullArray(), pos, true, nil
	}
	items := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		item, consumed, ok, ierr := parseOne(buf[pos:])
		if ierr != nil {
			return Value{}, 0, false, ierr
		}
		if !ok {
			return Value{}, 0, false, nil
		}
		items = append(items, item)
		pos += consumed
	}
	return Arr(items), pos, true, nil
}

// readLine returns the bytes up to (excluding) the first "\r\n" in buf,
// and the number of bytes consumed including the terminator.
func readLine(buf []byte) (line []byte, n int, ok bool) {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return buf[:i], i + 2, true
		}
	}
	return nil, 0, false
}

// ParseRDBBlob attempts to read the replication-only shape `$len\r\n<len
// bytes>` (no trailing CRLF) from the front of buf. It reports ok=false if
// the header or the full body is not yet buffered.
func ParseRDBBlob(buf []byte) (blob []byte, n int, ok bool, err error) {
	if len(buf) == 0 || buf[0] != '$' {
		return nil, 0, false, ErrSyntax
	}
	line, lineLen, ok := readLine(buf[1:])
	if !ok {
		return nil, 0, false, nil
	}
	size, perr := strconv.Atoi(string(line))
	if perr != nil || size < 0 {
		return nil, 0, false, ErrSyntax
	}
	header := 1 + lineLen
	if len(buf) < header+size {
		return nil, 0, false, nil
	}
	data := make([]byte, size)
	copy(data, buf[header:header+size])
	return data, header + size, true, nil
}

// FromError renders an error value the way every command-level error is
// turned into a wire reply.
func FromError(err error) Value {
	return Err(err.Error())
}
