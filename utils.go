package mongo

import (
	"reflect"
	"strings"

	"github.com/iancoleman/strcase"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// M is an untyped document.
type M map[string]any

func Map() M {
	return M{}
}

func (m M) Set(key string, value any) M {
	m[key] = value
	return m
}

func (m M) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// GetModelName returns the snake case name of model's struct type, or ""
// when model is not a struct.
func GetModelName(model any) string {
	modelVal := reflect.ValueOf(model)
	k := modelVal.Kind()
	for k == reflect.Pointer || k == reflect.UnsafePointer {
		if modelVal.IsNil() {
			return ""
		}
		modelVal = modelVal.Elem()
		k = modelVal.Kind()
	}
	if k != reflect.Struct {
		return ""
	}

	return ToSnake(modelVal.Type().Name())
}

func ToSnake(text string) string {
	return strcase.ToSnakeWithIgnore(text, ".")
}

func GetIdFilter(id any) M {
	return M{"_id": id}
}

func Pointer[T any](v T) *T {
	return &v
}

// SequentialID returns a new ObjectID in hex. IDs from one process sort by
// creation time.
func SequentialID() string {
	return primitive.NewObjectID().Hex()
}

// GetID returns the id of a document: the "_id" key of a map, the field
// tagged db:"pk", or the field tagged bson:"_id". Embedded structs are
// searched as if inlined.
func GetID(model any) any {
	switch v := model.(type) {
	case nil:
		return nil
	case M:
		return v["_id"]
	case map[string]any:
		return v["_id"]
	case bson.M:
		return v["_id"]
	case bson.D:
		for _, e := range v {
			if e.Key == "_id" {
				return e.Value
			}
		}
		return nil
	}

	if pk := GetValueOfModelPrimaryKey(model); pk != nil {
		return pk
	}

	var id any
	walkFields(reflect.ValueOf(model), func(field reflect.StructField, value reflect.Value) bool {
		if bsonName(field) != "_id" {
			return true
		}
		id = value.Interface()
		return false
	})
	return id
}

// tag `db:"pk"`
func GetValueOfModelPrimaryKey(model any) any {
	var pk any
	walkFields(reflect.ValueOf(model), func(field reflect.StructField, value reflect.Value) bool {
		if !hasDBTag(field, "pk") {
			return true
		}
		pk = value.Interface()
		return false
	})
	return pk
}

// ParseModelIndex returns the collection name of model and one index per
// field tagged db:"index" or db:"unique".
func ParseModelIndex(model any) (name string, indexes []mongo.IndexModel) {
	name = GetModelName(model)

	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return name, nil
	}

	walkTypeFields(t, func(field reflect.StructField) {
		unique := hasDBTag(field, "unique")
		if !unique && !hasDBTag(field, "index") {
			return
		}
		key := bsonName(field)
		opt := options.Index().SetName(key + "_1")
		if unique {
			opt.SetUnique(true)
		}
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: key, Value: 1}},
			Options: opt,
		})
	})
	return name, indexes
}

// ToEntity converts an untyped document to T. It panics when m does not
// fit T.
func ToEntity[T any](m M) *T {
	raw, err := bson.Marshal(m)
	if err != nil {
		panic(err)
	}
	o := new(T)
	if err := bson.Unmarshal(raw, o); err != nil {
		panic(err)
	}
	return o
}

func ToEntities[T any](items []M) []*T {
	var os []*T
	for _, v := range items {
		os = append(os, ToEntity[T](v))
	}
	return os
}

// bsonName is the key the driver stores field under.
func bsonName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("bson"), ",")
	if name == "" || name == "-" {
		return strings.ToLower(field.Name)
	}
	return name
}

// inlined reports whether the fields of field's struct are stored at the
// level of its parent.
func inlined(field reflect.StructField) bool {
	tag := field.Tag.Get("bson")
	if tag == "" {
		return field.Anonymous
	}
	_, opts, _ := strings.Cut(tag, ",")
	return strings.Contains(opts, "inline")
}

func hasDBTag(field reflect.StructField, want string) bool {
	tag := field.Tag.Get("db")
	if tag == "" {
		return false
	}
	for _, v := range strings.Split(strings.Trim(tag, ", ;"), ",") {
		if strings.TrimSpace(v) == want {
			return true
		}
	}
	return false
}

// walkFields visits the readable fields of the struct behind v, descending
// into embedded structs, until fn returns false.
func walkFields(v reflect.Value, fn func(field reflect.StructField, value reflect.Value) bool) bool {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return true
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return true
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if inlined(field) {
			if !walkFields(value, fn) {
				return false
			}
			continue
		}
		if !value.CanInterface() {
			continue
		}
		if !fn(field, value) {
			return false
		}
	}
	return true
}

func walkTypeFields(t reflect.Type, fn func(field reflect.StructField)) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if inlined(field) {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				walkTypeFields(ft, fn)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		fn(field)
	}
}
