package cache

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/seisgo/volume"
)

// ErrUnhashableKey is returned when a call argument cannot be encoded into
// a cache key. The cache never silently degrades to uncached execution.
var ErrUnhashableKey = errors.New("cache: argument cannot be used as cache key")

// Key is a flattened, deterministic encoding of call arguments.
// Equal argument lists always produce equal keys.
type Key string

// NewKey builds a Key from the given parts. Ranges are normalized to
// (start, stop, step) triples, slices and maps are flattened recursively
// (map entries sorted by key). A part that cannot be encoded fails with
// ErrUnhashableKey.
func NewKey(parts ...any) (Key, error) {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte('|')
		}
		if err := encodePart(&sb, p); err != nil {
			return "", err
		}
	}
	return Key(sb.String()), nil
}

// MustKey is NewKey for arguments known statically to be encodable.
// It panics on failure, which indicates a programming error at the call
// site rather than a runtime condition.
func MustKey(parts ...any) Key {
	k, err := NewKey(parts...)
	if err != nil {
		panic(err)
	}
	return k
}

func encodePart(sb *strings.Builder, p any) error {
	switch v := p.(type) {
	case nil:
		sb.WriteString("<nil>")
	case bool:
		sb.WriteString(strconv.FormatBool(v))
	case int:
		sb.WriteString(strconv.Itoa(v))
	case int8:
		sb.WriteString(strconv.FormatInt(int64(v), 10))
	case int16:
		sb.WriteString(strconv.FormatInt(int64(v), 10))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(v), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
	case uint:
		sb.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint8:
		sb.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint16:
		sb.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint32:
		sb.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(v, 10))
	case float32:
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	case float64:
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		sb.WriteString(strconv.Quote(v))
	case volume.Axis:
		sb.WriteString(strconv.Itoa(int(v)))
	case volume.Range:
		step := v.Step
		if step == 0 {
			step = 1
		}
		fmt.Fprintf(sb, "(%d,%d,%d)", v.Start, v.Stop, step)
	case volume.Location:
		for i, r := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encodePart(sb, r); err != nil {
				return err
			}
		}
	case volume.Shape:
		fmt.Fprintf(sb, "(%d,%d,%d)", v[0], v[1], v[2])
	case Key:
		sb.WriteString(string(v))
	case []int:
		sb.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Itoa(e))
		}
		sb.WriteByte(']')
	case []string:
		sb.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(e))
		}
		sb.WriteByte(']')
	case []any:
		sb.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encodePart(sb, e); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			if err := encodePart(sb, v[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("%w: %T", ErrUnhashableKey, p)
	}
	return nil
}
