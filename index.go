package mongo

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxIndexBuilders = 4

// EnsureIndexes creates the indexes declared by the db struct tags of each
// model (see ParseModelIndex) in the collection named after it. Existing
// indexes with the same definition are left alone.
func (t *Database) EnsureIndexes(ctx context.Context, models ...any) error {
	type plan struct {
		name    string
		indexes []mongo.IndexModel
	}
	plans := make([]plan, 0, len(models))
	for _, model := range models {
		name, indexes := ParseModelIndex(model)
		if name == "" {
			return ErrInvalidModelName
		}
		if len(indexes) > 0 {
			plans = append(plans, plan{name: name, indexes: indexes})
		}
	}

	if t.Database == nil {
		return ErrNotConnected
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxIndexBuilders)
	for _, p := range plans {
		name, indexes := p.name, p.indexes
		g.Go(func() error {
			created, err := t.Database.Collection(name).Indexes().CreateMany(ctx, indexes)
			if err != nil {
				return errors.Wrapf(err, "create indexes on %s", name)
			}
			t.client.logger.Debug("indexes ensured", zap.String("collection", name), zap.Strings("indexes", created))
			return nil
		})
	}
	return g.Wait()
}
