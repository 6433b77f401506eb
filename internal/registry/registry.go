// Package registry is the process-wide authoritative table of backends.
// It is the sole mutator of status, weight, metrics, last_checked and
// load_count; the Ring only ever reads a snapshot of it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vinit-chauhan/chlb/logger"
)

// Status is the liveness of a backend as tracked by the control loop.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusUnhealthy Status = "UNHEALTHY"
)

// Metrics holds the most recent control-loop samples for a backend.
type Metrics struct {
	CPU          float64 `bson:"cpu" json:"cpu"`
	NetIn        float64 `bson:"net_in" json:"net_in"`
	NetOut       float64 `bson:"net_out" json:"net_out"`
	DiskRead     float64 `bson:"disk_read" json:"disk_read"`
	DiskWrite    float64 `bson:"disk_write" json:"disk_write"`
	StatusFailed float64 `bson:"status_failed" json:"status_failed"`
}

// Backend is one record in the registry, keyed by InstanceID.
type Backend struct {
	InstanceID  string    `bson:"instance_id" json:"instance_id"`
	Name        string    `bson:"name" json:"name"`
	Address     string    `bson:"address" json:"address"`
	Port        int       `bson:"port" json:"port"`
	Status      Status    `bson:"status" json:"status"`
	Weight      int       `bson:"weight" json:"weight"`
	Metrics     Metrics   `bson:"metrics" json:"metrics"`
	LoadCount   uint64    `bson:"load_count" json:"load_count"`
	LastChecked time.Time `bson:"last_checked" json:"last_checked"`
}

// ErrRegistryUnavailable is returned for any store read/write failure.
// Callers treat it as transient: the Router keeps serving the last good
// Ring, the Control Loop skips the current iteration.
var ErrRegistryUnavailable = errors.New("registry: store unavailable")

// UpsertFields merges into an existing Backend, or seeds a new one when
// InstanceID is not yet present. Nil fields are left untouched on update,
// and given a sane default on insert.
type UpsertFields struct {
	Name        *string
	Address     *string
	Port        *int
	Status      *Status
	Weight      *int
	Metrics     *Metrics
	LastChecked *time.Time
}

// Registry is a MongoDB-backed store of Backend records. One document per
// backend; instance_id is the primary lookup key, status is indexed for
// find_healthy. All mutations are single-field $set/$inc on one document,
// so no multi-document transaction is required.
type Registry struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

// Open connects to MongoDB at uri and returns a Registry backed by the
// chlb.servers collection. The caller is responsible for calling Close.
func Open(ctx context.Context, uri string, timeout time.Duration) (*Registry, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrRegistryUnavailable, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", ErrRegistryUnavailable, err)
	}

	coll := client.Database("chlb").Collection("servers")
	if _, err := coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	}); err != nil {
		logger.Warn("Registry", "failed to ensure status index", "error", err.Error())
	}

	return &Registry{client: client, coll: coll, timeout: timeout}, nil
}

// Close disconnects the underlying MongoDB client.
func (r *Registry) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *Registry) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.timeout)
}

// Snapshot returns a point-in-time list of every backend in the registry.
func (r *Registry) Snapshot(parent context.Context) ([]Backend, error) {
	ctx, cancel := r.ctx(parent)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("%w: find: %v", ErrRegistryUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []Backend
	for cur.Next(ctx) {
		var b Backend
		if err := cur.Decode(&b); err != nil {
			logger.Warn("Registry", "dropping malformed document", "error", err.Error())
			continue
		}
		out = append(out, b)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: cursor: %v", ErrRegistryUnavailable, err)
	}
	return out, nil
}

// FindHealthy returns the subset of Snapshot with Status == HEALTHY.
func (r *Registry) FindHealthy(parent context.Context) ([]Backend, error) {
	ctx, cancel := r.ctx(parent)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{"status": string(StatusHealthy)})
	if err != nil {
		return nil, fmt.Errorf("%w: find: %v", ErrRegistryUnavailable, err)
	}
	defer cur.Close(ctx)

	var out []Backend
	for cur.Next(ctx) {
		var b Backend
		if err := cur.Decode(&b); err != nil {
			logger.Warn("Registry", "dropping malformed document", "error", err.Error())
			continue
		}
		out = append(out, b)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: cursor: %v", ErrRegistryUnavailable, err)
	}
	return out, nil
}

// Upsert merges fields into the backend identified by instanceID, creating
// a new HEALTHY/weight-1 record if one does not already exist.
func (r *Registry) Upsert(parent context.Context, instanceID string, fields UpsertFields) error {
	ctx, cancel := r.ctx(parent)
	defer cancel()

	set := bson.M{}
	if fields.Name != nil {
		set["name"] = *fields.Name
	}
	if fields.Address != nil {
		set["address"] = *fields.Address
	}
	if fields.Port != nil {
		set["port"] = *fields.Port
	}
	if fields.Status != nil {
		set["status"] = string(*fields.Status)
	}
	if fields.Weight != nil {
		set["weight"] = *fields.Weight
	}
	if fields.Metrics != nil {
		set["metrics"] = *fields.Metrics
	}
	if fields.LastChecked != nil {
		set["last_checked"] = *fields.LastChecked
	}

	setOnInsert := bson.M{"instance_id": instanceID, "load_count": uint64(0)}
	if fields.Status == nil {
		setOnInsert["status"] = string(StatusHealthy)
	}
	if fields.Weight == nil {
		setOnInsert["weight"] = 1
	}

	update := bson.M{"$set": set, "$setOnInsert": setOnInsert}
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"instance_id": instanceID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrRegistryUnavailable, instanceID, err)
	}
	return nil
}

// BulkReplace clears the registry and then inserts records, as two separate
// store operations with no transaction around them: readers can see the
// empty collection in between, and a failed insert leaves it empty. Used
// only by bootstrap.
func (r *Registry) BulkReplace(parent context.Context, records []Backend) error {
	ctx, cancel := r.ctx(parent)
	defer cancel()

	if _, err := r.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrRegistryUnavailable, err)
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, len(records))
	for i, rec := range records {
		docs[i] = rec
	}
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("%w: insert: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// IncLoad atomically increments load_count for a backend.
func (r *Registry) IncLoad(parent context.Context, instanceID string) error {
	ctx, cancel := r.ctx(parent)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"instance_id": instanceID},
		bson.M{"$inc": bson.M{"load_count": 1}},
	)
	if err != nil {
		return fmt.Errorf("%w: inc_load %s: %v", ErrRegistryUnavailable, instanceID, err)
	}
	return nil
}

// SetStatus atomically writes status for a backend.
func (r *Registry) SetStatus(parent context.Context, instanceID string, status Status) error {
	ctx, cancel := r.ctx(parent)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"instance_id": instanceID},
		bson.M{"$set": bson.M{"status": string(status)}},
	)
	if err != nil {
		return fmt.Errorf("%w: set_status %s: %v", ErrRegistryUnavailable, instanceID, err)
	}
	return nil
}

// Rekey changes the instance_id field of the document currently keyed by
// oldInstanceID to newInstanceID, in place. Used by the weight-recalc task
// when a backend's instance_id was resolved after its record already
// existed under an address-only identity (spec.md §4.4.2 step 1): without
// this, a subsequent Upsert(newInstanceID, ...) would insert a second,
// blank record instead of updating the one that already carries the
// backend's name/address/port. A no-op if no document is keyed by
// oldInstanceID.
func (r *Registry) Rekey(parent context.Context, oldInstanceID, newInstanceID string) error {
	ctx, cancel := r.ctx(parent)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"instance_id": oldInstanceID},
		bson.M{"$set": bson.M{"instance_id": newInstanceID}},
	)
	if err != nil {
		return fmt.Errorf("%w: rekey %s -> %s: %v", ErrRegistryUnavailable, oldInstanceID, newInstanceID, err)
	}
	return nil
}
