package registry

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"splinter/utils"
)

type mongoNode struct {
	Identity    string   `bson:"_id"`
	Endpoints   []string `bson:"endpoints"`
	DisplayName string   `bson:"display_name,omitempty"`
	Keys        []string `bson:"keys,omitempty"`
}

// MongoRegistry keeps the directory in a MongoDB collection, one document
// per node keyed by identity.
type MongoRegistry struct {
	ctx    context.Context
	client *mongo.Client
	nodes  *mongo.Collection
}

func NewMongoRegistry(uri, database string) (*MongoRegistry, error) {
	ctx := context.TODO()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "mongodb is unreachable")
	}
	return &MongoRegistry{
		ctx:    ctx,
		client: client,
		nodes:  client.Database(database).Collection("nodes"),
	}, nil
}

func (r *MongoRegistry) ListNodes() ([]Node, error) {
	cursor, err := r.nodes.Find(r.ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to list registry nodes")
	}
	defer cursor.Close(r.ctx)

	var out []Node
	for cursor.Next(r.ctx) {
		var doc mongoNode
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to decode registry node")
		}
		out = append(out, Node(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to list registry nodes")
	}
	return out, nil
}

func (r *MongoRegistry) FetchNode(identity string) (*Node, error) {
	var doc mongoNode
	err := r.nodes.FindOne(r.ctx, bson.M{"_id": identity}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.Errorf(utils.KindNotFound, "no registry entry for %s", identity)
	}
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch registry node")
	}
	node := Node(doc)
	return &node, nil
}

func (r *MongoRegistry) InsertNode(node Node) error {
	if node.Identity == "" {
		return utils.NewError(utils.KindInvalidState, "registry node requires an identity")
	}
	doc := mongoNode(node)
	_, err := r.nodes.UpdateOne(r.ctx,
		bson.M{"_id": node.Identity},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to upsert registry node")
	}
	return nil
}

func (r *MongoRegistry) DeleteNode(identity string) error {
	res, err := r.nodes.DeleteOne(r.ctx, bson.M{"_id": identity})
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to delete registry node")
	}
	if res.DeletedCount == 0 {
		return utils.Errorf(utils.KindNotFound, "no registry entry for %s", identity)
	}
	return nil
}

// Close releases the client.
func (r *MongoRegistry) Close() error {
	return r.client.Disconnect(r.ctx)
}
