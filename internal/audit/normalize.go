package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CollectionMarker replaces collection-valued associations in snapshots.
const CollectionMarker = "collection"

// Normalize reduces a captured field value to a stable representation that
// is safe to serialize and compare. Rules apply in order: absent values stay
// absent, references collapse to their identifier, collections to a marker,
// enums to their name, scalars pass through and anything else is stringified.
func Normalize(v any) any {
	if isNil(v) {
		return nil
	}

	switch x := v.(type) {
	case domain.Identifiable:
		id := x.Identifier()
		if id == uuid.Nil {
			return nil
		}
		return id.String()
	case domain.Collection:
		return CollectionMarker
	case domain.Enumerated:
		return x.EnumName()
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		uuid.UUID:
		return x
	case decimal.Decimal:
		return scaled(x)
	case time.Time:
		return x.UTC()
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		return Normalize(rv.Elem().Interface())
	}

	return fmt.Sprint(v)
}

// scaled renders a decimal as a JSON number keeping its scale, so a balance
// of 100.00 is not shortened to 100.
func scaled(d decimal.Decimal) json.Number {
	if exp := d.Exponent(); exp < 0 {
		return json.Number(d.StringFixed(-exp))
	}
	return json.Number(d.String())
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// NormalizeSnapshot pairs field names with their normalized values. A nil
// snapshot yields an empty map.
func NormalizeSnapshot(s *domain.Snapshot) (map[string]any, error) {
	values := map[string]any{}
	if s == nil {
		return values, nil
	}
	if len(s.Fields) != len(s.Values) {
		return nil, fmt.Errorf("snapshot has %d fields but %d values", len(s.Fields), len(s.Values))
	}
	for i, field := range s.Fields {
		values[field] = Normalize(s.Values[i])
	}
	return values, nil
}

// ChangedFields lists the fields whose normalized value differs. It is empty
// unless both maps are non-empty. Fields follow order first; any others are
// appended sorted by name.
func ChangedFields(oldValues, newValues map[string]any, order []string) []string {
	changed := []string{}
	if len(oldValues) == 0 || len(newValues) == 0 {
		return changed
	}

	seen := make(map[string]struct{}, len(newValues))
	check := func(field string) {
		if _, dup := seen[field]; dup {
			return
		}
		seen[field] = struct{}{}
		if !valuesEqual(oldValues[field], newValues[field]) {
			changed = append(changed, field)
		}
	}

	for _, field := range order {
		check(field)
	}

	var rest []string
	for field := range newValues {
		if _, ok := seen[field]; !ok {
			rest = append(rest, field)
		}
	}
	for field := range oldValues {
		if _, ok := seen[field]; !ok {
			if _, inNew := newValues[field]; !inNew {
				rest = append(rest, field)
			}
		}
	}
	sort.Strings(rest)
	for _, field := range rest {
		check(field)
	}

	return changed
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case json.Number:
		y, ok := b.(json.Number)
		if !ok {
			return false
		}
		dx, errX := decimal.NewFromString(x.String())
		dy, errY := decimal.NewFromString(y.String())
		if errX != nil || errY != nil {
			return x == y
		}
		return dx.Equal(dy)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return reflect.DeepEqual(a, b)
}
