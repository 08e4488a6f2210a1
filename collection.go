package mongo

import (
	"context"
	"errors"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is a collection whose documents decode into T.
type Collection[T any] struct {
	db   *Database
	name string
	coll *mongo.Collection
}

// CollectionOf returns an accessor for the named collection. An empty name
// is derived from T, so CollectionOf[OrderItem]("") reads "order_item".
//
//	users := mongo.CollectionOf[User]("users")
//	u, err := users(db).Get(ctx, id)
func CollectionOf[T any](name string) func(db *Database) *Collection[T] {
	if name == "" {
		name = GetModelName(new(T))
	}
	if name == "" {
		panic(ErrInvalidModelName)
	}
	return func(db *Database) *Collection[T] {
		return newCollection[T](db, name)
	}
}

func newCollection[T any](db *Database, name string, opts ...*options.CollectionOptions) *Collection[T] {
	m := &Collection[T]{db: db, name: name}
	if db.Database != nil {
		m.coll = db.Database.Collection(name, opts...)
	}
	return m
}

func (m *Collection[T]) Name() string {
	return m.name
}

// Raw returns the driver collection, nil before Connect.
func (m *Collection[T]) Raw() *mongo.Collection {
	return m.coll
}

func (m *Collection[T]) handle() (*mongo.Collection, error) {
	if m.coll == nil {
		return nil, ErrNotConnected
	}
	return m.coll, nil
}

// Set replaces the document with the same id, inserting it when missing.
func (m *Collection[T]) Set(ctx context.Context, doc T) error {
	id := GetID(doc)
	if id == nil || id == "" {
		return ErrNoID
	}
	coll, err := m.handle()
	if err != nil {
		return err
	}

	_, err = coll.ReplaceOne(ctx, GetIdFilter(id), doc, options.Replace().SetUpsert(true))
	return err
}

// Insert adds doc and returns its id.
func (m *Collection[T]) Insert(ctx context.Context, doc T) (any, error) {
	coll, err := m.handle()
	if err != nil {
		return nil, err
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (m *Collection[T]) Del(ctx context.Context, id any) error {
	coll, err := m.handle()
	if err != nil {
		return err
	}
	_, err = coll.DeleteOne(ctx, GetIdFilter(id))
	return err
}

// Update sets the fields of update on the document with update's id and
// returns the document as stored afterwards. update can be a struct or an M
// carrying "_id" and at least one other field.
func (m *Collection[T]) Update(ctx context.Context, update any) (*T, error) {
	id := GetID(update)
	if id == nil || id == "" {
		return nil, ErrNoID
	}

	raw, err := bson.Marshal(update)
	if err != nil {
		return nil, err
	}
	fields := Map()
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "_id")
	if len(fields) == 0 {
		return nil, ErrEmptyUpdate
	}

	coll, err := m.handle()
	if err != nil {
		return nil, err
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)
	res := coll.FindOneAndUpdate(ctx, GetIdFilter(id), bson.D{{Key: "$set", Value: fields}}, opt)
	return decodeOne[T](res)
}

func (m *Collection[T]) Inc(ctx context.Context, id, fields any) error {
	coll, err := m.handle()
	if err != nil {
		return err
	}
	_, err = coll.UpdateByID(ctx, id, bson.D{{Key: "$inc", Value: fields}})
	return err
}

func (m *Collection[T]) Get(ctx context.Context, id any, projection ...any) (*T, error) {
	coll, err := m.handle()
	if err != nil {
		return nil, err
	}
	opt := options.FindOne()
	if len(projection) > 0 {
		opt.SetProjection(projection[0])
	}
	return decodeOne[T](coll.FindOne(ctx, GetIdFilter(id), opt))
}

// Unmarshal decodes the document with the given id into out.
func (m *Collection[T]) Unmarshal(ctx context.Context, id, out any, projection ...any) error {
	coll, err := m.handle()
	if err != nil {
		return err
	}
	opt := options.FindOne()
	if len(projection) > 0 {
		opt.SetProjection(projection[0])
	}

	err = coll.FindOne(ctx, GetIdFilter(id), opt).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrRecordNotFound
	}
	return err
}

func (m *Collection[T]) First(ctx context.Context, filter, sort any, projection ...any) (*T, error) {
	coll, err := m.handle()
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = bson.D{}
	}

	opt := options.FindOne()
	if sort != nil {
		opt.SetSort(sort)
	}
	if len(projection) > 0 {
		opt.SetProjection(projection[0])
	}

	return decodeOne[T](coll.FindOne(ctx, filter, opt))
}

// Count counts the documents matching filter. An empty filter uses the
// collection metadata estimate, except inside a transaction where the
// estimate is not allowed.
func (m *Collection[T]) Count(ctx context.Context, filter any) (count int64, err error) {
	coll, err := m.handle()
	if err != nil {
		return 0, err
	}
	if isEmptyFilter(filter) {
		if _, inTxn := SessionFromContext(ctx); !inTxn {
			return coll.EstimatedDocumentCount(ctx)
		}
		filter = bson.D{}
	}
	return coll.CountDocuments(ctx, filter)
}

func (m *Collection[T]) Has(ctx context.Context, id any) (bool, error) {
	coll, err := m.handle()
	if err != nil {
		return false, err
	}
	count, err := coll.CountDocuments(ctx, GetIdFilter(id), options.Count().SetLimit(1))
	return count > 0, err
}

func (m *Collection[T]) Pagination(ctx context.Context, filter, sort any, page, pageSize int64, projection ...any) (total int64, list []*T, err error) {
	total, err = m.Count(ctx, filter)
	if err != nil {
		return
	}

	if total < 1 {
		return
	}

	if page < 1 {
		page = 1
	}

	if pageSize < 1 {
		pageSize = 1
	}

	opt := options.Find().SetSkip((page - 1) * pageSize).SetLimit(pageSize)
	if sort != nil {
		opt.SetSort(sort)
	}
	if len(projection) > 0 {
		opt.SetProjection(projection[0])
	}

	if filter == nil {
		filter = bson.D{}
	}
	cur, err := m.coll.Find(ctx, filter, opt)
	if err != nil {
		return
	}
	err = cur.All(ctx, &list)
	return
}

// Next returns up to pageSize documents with an id greater than lastID. An
// _id condition in filter still applies.
func (m *Collection[T]) Next(ctx context.Context, filter M, sort any, lastID any, pageSize int64, projection ...any) ([]*T, error) {
	coll, err := m.handle()
	if err != nil {
		return nil, err
	}

	next := filter
	if lastID != nil && lastID != "" {
		next = afterID(filter, lastID)
	}
	if next == nil {
		next = Map()
	}

	if pageSize < 1 {
		pageSize = 10
	}

	opt := options.Find().SetLimit(pageSize)
	if len(projection) > 0 {
		opt.SetProjection(projection[0])
	}
	if sort != nil {
		opt.SetSort(sort)
	}

	cur, err := coll.Find(ctx, next, opt)
	if err != nil {
		return nil, err
	}

	var list []*T
	if err := cur.All(ctx, &list); err != nil {
		return nil, err
	}

	return list, nil
}

// List walks every document matching filter in id order, size documents per
// round trip. Returning false from cb stops the walk.
func (m *Collection[T]) List(ctx context.Context, filter M, size int64, cb func(doc *T, total int64) (bool, error), projection ...any) error {
	total, err := m.Count(ctx, filter)
	if err != nil {
		return err
	}
	if total < 1 {
		return nil
	}

	next := filter
	if next == nil {
		next = Map()
	}

	if size < 1 {
		size = 10
	}

	opt := options.Find().SetLimit(size).SetSort(bson.D{{Key: "_id", Value: 1}})
	if len(projection) > 0 {
		opt.SetProjection(projection[0])
	}

	for {
		cur, err := m.coll.Find(ctx, next, opt)
		if err != nil {
			return err
		}

		var lastID any
		n := 0
		for cur.Next(ctx) {
			n++
			if id, err := cur.Current.LookupErr("_id"); err == nil {
				if err := id.Unmarshal(&lastID); err != nil {
					cur.Close(ctx)
					return err
				}
			}

			doc := new(T)
			if err := cur.Decode(doc); err != nil {
				cur.Close(ctx)
				return err
			}
			if ok, err := cb(doc, total); err != nil || !ok {
				cur.Close(ctx)
				return err
			}
		}
		if err := cur.Err(); err != nil {
			cur.Close(ctx)
			return err
		}
		cur.Close(ctx)

		if int64(n) < size || lastID == nil {
			return nil
		}
		next = afterID(filter, lastID)
	}
}

func (m *Collection[T]) Drop(ctx context.Context) error {
	coll, err := m.handle()
	if err != nil {
		return err
	}
	return coll.Drop(ctx)
}

// afterID narrows filter to documents whose _id is greater than lastID. A
// caller's own _id condition is kept alongside through $and; filter itself
// is not modified.
func afterID(filter M, lastID any) M {
	cursor := M{"_id": M{"$gt": lastID}}
	if len(filter) == 0 {
		return cursor
	}
	if _, ok := filter["_id"]; ok {
		return M{"$and": []any{filter, cursor}}
	}

	next := make(M, len(filter)+1)
	for k, v := range filter {
		next[k] = v
	}
	next["_id"] = cursor["_id"]
	return next
}

func decodeOne[T any](res *mongo.SingleResult) (*T, error) {
	v := new(T)
	if err := res.Decode(v); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return v, nil
}

func isEmptyFilter(filter any) bool {
	val := reflect.ValueOf(filter)
	return val.Kind() == reflect.Invalid ||
		((val.Kind() == reflect.Map ||
			val.Kind() == reflect.Slice ||
			val.Kind() == reflect.Array) &&
			val.Len() < 1)
}
