// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/openimpact/dtrack/lib/store"
	"github.com/openimpact/dtrack/lib/util"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// MongoWatch implements a stored organization watch in MongoDB.
type MongoWatch struct {
	ID     primitive.ObjectID `json:"_id" bson:"_id"`
	Label  string             `json:"label,omitempty" bson:"label,omitempty"`
	Wallet string             `json:"wallet" bson:"wallet"`
}

// Watch converts a MongoWatch to store.Watch type.
func (w MongoWatch) Watch() store.Watch {
	return store.Watch{ID: w.ID[:], Wallet: w.Wallet, Label: w.Label}
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// AddWatch saves an organization watch if the wallet is not already watched.
func (m *Mongo) AddWatch(w store.Watch, net string) ([]byte, error) {
	var mw MongoWatch
	mw.Wallet = w.Wallet

	col := m.c.Database("watch").Collection(net)

	// try and find it
	filter := bson.M{"wallet": w.Wallet}
	sr := col.FindOne(context.Background(), filter)

	err := sr.Decode(&mw)
	if errors.Is(err, mgo.ErrNoDocuments) { // if not found, do insert it!!
		res, errIns := col.InsertOne(context.Background(), bson.M{"label": w.Label, "wallet": w.Wallet})
		if errIns != nil {
			return nil, fmt.Errorf("could not insert watch in db: %w", errIns)
		}

		return hex.DecodeString(res.InsertedID.(primitive.ObjectID).Hex())
	}

	if err != nil {
		return nil, fmt.Errorf("could not insert watch in db: %w", err)
	}

	log.Debug().Str("net", net).Str("wallet", mw.Wallet).Msg("organization was already watched")

	return hex.DecodeString(mw.ID.Hex())
}

// RemoveWatch deletes an organization watch from the database.
func (m *Mongo) RemoveWatch(w store.Watch, net string) error {
	col := m.c.Database("watch").Collection(net)

	filter := bson.M{"wallet": w.Wallet}

	res, err := col.DeleteOne(context.Background(), filter)
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrWatchNotFound
	}

	return err
}

// GetWatches returns the organization watches for the networks indicated in the net slice, or all networks when
// the slice is empty.
func (m *Mongo) GetWatches(net []string) ([]store.WatchedOrgs, error) {
	cols, err := m.c.Database("watch").ListCollections(context.Background(), bson.D{})
	if err != nil {
		return nil, fmt.Errorf("error getting mongo DB object: %w", err)
	}

	watches := []store.WatchedOrgs{}

	for cols.Next(context.Background()) {
		col := cols.Current.Lookup("name").String()
		col = col[1 : len(col)-1]

		if len(net) == 0 || util.In(net, col) {
			var wo store.WatchedOrgs

			docs, err := m.c.Database("watch").Collection(col).Find(context.TODO(), bson.M{})
			if err == nil {
				wo.Net = col

				for docs.Next(context.Background()) {
					var w MongoWatch
					if err = bson.Unmarshal(docs.Current, &w); err == nil {
						wo.Orgs = append(wo.Orgs, w.Watch())
					}
				}
			}

			watches = append(watches, wo)
		}
	}

	return watches, nil
}

// LoadCursor loads from db the scan cursor for the indicated network.
func (m *Mongo) LoadCursor(net string) (cur store.Cursor, err error) {
	sr := m.c.Database("cursor").Collection(net).FindOne(context.TODO(), bson.D{})
	if err = sr.Decode(&cur); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return
}

// SaveCursor saves to db the scan cursor for the indicated network.
func (m *Mongo) SaveCursor(net string, cur store.Cursor) (err error) {
	_, err = m.c.Database("cursor").Collection(net).UpdateOne(context.Background(),
		bson.D{}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "block", Value: cur.Block},
					{Key: "hashes", Value: cur.Hashes},
					{Key: "idx", Value: cur.Idx},
					{Key: "orgs", Value: cur.Orgs},
				},
			},
		},
		options.Update().SetUpsert(true))

	return
}

// DeleteCursor deletes from db the scan cursor for the indicated network.
func (m *Mongo) DeleteCursor(net string) (err error) {
	_, err = m.c.Database("cursor").Collection(net).DeleteOne(context.Background(), bson.D{}, options.Delete())

	return
}
