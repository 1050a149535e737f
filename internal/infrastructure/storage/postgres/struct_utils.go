package postgres

import (
	"reflect"
	"sync"
)

// ExtractDBColumns lists the "db" tags of T in field order, descending into
// embedded structs. Repositories call it once at package init.
//
//	columns := ExtractDBColumns[entity.StockMovement]()
//	// ["id", "seq", "item_id", "warehouse_id", ...]
func ExtractDBColumns[T any]() []string {
	var zero T
	meta := metadataFor(reflect.TypeOf(zero))
	return meta.columns()
}

// columnField is one tagged field of a struct.
type columnField struct {
	index    int
	column   string
	embedded *structMeta
}

// structMeta is the cached tag layout of a struct type.
type structMeta struct {
	fields []columnField
}

func (m *structMeta) columns() []string {
	var cols []string
	for _, f := range m.fields {
		if f.embedded != nil {
			cols = append(cols, f.embedded.columns()...)
			continue
		}
		cols = append(cols, f.column)
	}
	return cols
}

var metaCache sync.Map // reflect.Type -> *structMeta

func metadataFor(t reflect.Type) *structMeta {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := metaCache.Load(t); ok {
		return cached.(*structMeta)
	}

	meta := &structMeta{}
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.Anonymous {
				meta.fields = append(meta.fields, columnField{index: i, embedded: metadataFor(field.Type)})
				continue
			}
			tag := field.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			meta.fields = append(meta.fields, columnField{index: i, column: tag})
		}
	}

	actual, _ := metaCache.LoadOrStore(t, meta)
	return actual.(*structMeta)
}

// StructToMap converts a struct (or pointer to one) into column -> value using
// "db" tags. Untagged fields are skipped. Used with squirrel SetMap.
func StructToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	res := make(map[string]any)
	fillMap(res, rv, metadataFor(rv.Type()))
	return res
}

func fillMap(res map[string]any, rv reflect.Value, meta *structMeta) {
	for _, f := range meta.fields {
		fv := rv.Field(f.index)
		if f.embedded != nil {
			if fv.Kind() == reflect.Ptr {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			fillMap(res, fv, f.embedded)
			continue
		}
		res[f.column] = fv.Interface()
	}
}
